package port

import (
	"errors"
	"time"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
)

var (
	// ErrTokenExpired indicates the token's exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignature indicates the signature did not verify against the configured key.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenMalformed indicates the token could not be parsed or is missing required claims.
	ErrTokenMalformed = errors.New("token malformed")
)

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// PasswordRehasher is implemented by hashers that can tell when a stored hash
// was produced with outdated parameters.
type PasswordRehasher interface {
	NeedsRehash(encoded string) bool
}

// PasswordStrengthValidator enforces password strength requirements.
type PasswordStrengthValidator interface {
	Validate(password string, userInputs ...string) error
}

// TokenCodec signs and verifies bearer tokens.
type TokenCodec interface {
	Issue(claims domain.TokenClaims, kind domain.TokenKind, ttl time.Duration) (string, error)
	Verify(token string) (*domain.TokenClaims, error)
}
