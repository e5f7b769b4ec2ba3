package domain

import "time"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the decoded payload of a bearer token.
type TokenClaims struct {
	ID                string
	Subject           string
	Email             string
	Role              Role
	Kind              TokenKind
	PasswordChangedAt time.Time
	IssuedAt          time.Time
	ExpiresAt         time.Time
}

// IssuedBeforePasswordChange reports whether the token carries a password epoch
// older than the supplied one.
func (c TokenClaims) IssuedBeforePasswordChange(changedAt time.Time) bool {
	return changedAt.After(c.PasswordChangedAt)
}

// ClaimsForUser builds the claim set minted for a user.
func ClaimsForUser(user User) TokenClaims {
	return TokenClaims{
		Subject:           user.ID,
		Email:             user.Email,
		Role:              user.Role,
		PasswordChangedAt: user.PasswordChangedAt,
	}
}

// RefreshToken is one issued refresh token. Only the hash of the raw token is stored.
type RefreshToken struct {
	ID           string
	UserID       string
	TokenHash    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason *string
	ReplacedByID *string
	IP           *string
	UserAgent    *string
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// Revocation reasons recorded on refresh tokens.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonRotated         = "rotated"
	RevokeReasonReuseDetected   = "reuse_detected"
	RevokeReasonPasswordChanged = "password_changed"
)
