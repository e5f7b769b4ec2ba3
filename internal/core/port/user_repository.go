package port

import (
	"context"
	"time"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetActiveByEmail returns only users with is_active set.
	GetActiveByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetByIDForUpdate locks the user row until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateLockout(ctx context.Context, id string, state domain.LockoutState) error
	RecordLogin(ctx context.Context, id string, at time.Time, ip *string) error
	UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
	// UpgradePasswordHash rewrites the hash only; password_changed_at is left untouched.
	UpgradePasswordHash(ctx context.Context, id string, passwordHash string) error
}
