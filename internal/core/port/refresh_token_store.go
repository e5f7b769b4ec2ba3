package port

import (
	"context"
	"time"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
)

// RefreshTokenStore persists hashed refresh tokens and their rotation chain.
type RefreshTokenStore interface {
	Create(ctx context.Context, token domain.RefreshToken) (string, error)
	// FindActiveByHash excludes revoked rows and locks the match until the transaction ends.
	FindActiveByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, id string, reason string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, reason string, at time.Time) (int, error)
	LinkReplacement(ctx context.Context, oldID string, newID string) error
}
