package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
)

// ErrKeyIDMissing indicates an RS256 token arrived without a kid header.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// tokenClaims is the wire form of domain.TokenClaims.
type tokenClaims struct {
	Email             string `json:"email,omitempty"`
	Role              string `json:"role"`
	Type              string `json:"type"`
	PasswordChangedAt string `json:"pwd_changed_at"`
	jwt.RegisteredClaims
}

// JWTCodec signs and verifies bearer tokens with either a shared HMAC secret
// (HS256) or an RSA key set (RS256).
type JWTCodec struct {
	method jwt.SigningMethod
	secret []byte
	keys   KeyProvider
	issuer string
	now    func() time.Time
}

// NewHS256Codec builds a codec signing with a shared secret.
func NewHS256Codec(secret, issuer string) (*JWTCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt: secret is required")
	}
	return &JWTCodec{
		method: jwt.SigningMethodHS256,
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}, nil
}

// NewRS256Codec builds a codec signing with the provider's active RSA key.
func NewRS256Codec(provider KeyProvider, issuer string) (*JWTCodec, error) {
	if provider == nil {
		return nil, errors.New("jwt: key provider is required")
	}
	return &JWTCodec{
		method: jwt.SigningMethodRS256,
		keys:   provider,
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source used for iat/exp and expiry checks.
func (c *JWTCodec) WithClock(now func() time.Time) *JWTCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// Algorithm returns the JWS algorithm name.
func (c *JWTCodec) Algorithm() string {
	return c.method.Alg()
}

// Issue signs claims as a token of the given kind valid for ttl.
func (c *JWTCodec) Issue(claims domain.TokenClaims, kind domain.TokenKind, ttl time.Duration) (string, error) {
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("jwt: subject is required")
	}
	if kind != domain.TokenKindAccess && kind != domain.TokenKindRefresh {
		return "", fmt.Errorf("jwt: unsupported token kind %q", kind)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("jwt: ttl must be positive")
	}

	now := c.now().UTC()
	jti := strings.TrimSpace(claims.ID)
	if jti == "" {
		jti = uuid.NewString()
	}

	payload := tokenClaims{
		Email:             claims.Email,
		Role:              string(claims.Role),
		Type:              string(kind),
		PasswordChangedAt: claims.PasswordChangedAt.UTC().Format(time.RFC3339Nano),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(c.method, payload)

	var signingKey any = c.secret
	if c.keys != nil {
		kid, key, err := c.keys.SigningKey()
		if err != nil {
			return "", fmt.Errorf("jwt: get signing key: %w", err)
		}
		token.Header["kid"] = kid
		signingKey = key
	}

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and decodes the claims. Errors wrap
// port.ErrTokenExpired, port.ErrTokenSignature or port.ErrTokenMalformed.
func (c *JWTCodec) Verify(raw string) (*domain.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &parsed, c.keyFunc, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", port.ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", port.ErrTokenSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", port.ErrTokenMalformed, err)
		}
	}

	return decodeClaims(parsed)
}

func (c *JWTCodec) keyFunc(token *jwt.Token) (any, error) {
	if c.keys == nil {
		return c.secret, nil
	}
	kid, _ := token.Header["kid"].(string)
	if strings.TrimSpace(kid) == "" {
		return nil, ErrKeyIDMissing
	}
	return c.keys.VerificationKey(kid)
}

func decodeClaims(parsed tokenClaims) (*domain.TokenClaims, error) {
	kind := domain.TokenKind(parsed.Type)
	if kind != domain.TokenKindAccess && kind != domain.TokenKindRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", port.ErrTokenMalformed, parsed.Type)
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", port.ErrTokenMalformed)
	}
	role, ok := domain.ParseRole(parsed.Role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", port.ErrTokenMalformed, parsed.Role)
	}
	changedAt, err := time.Parse(time.RFC3339Nano, parsed.PasswordChangedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: pwd_changed_at: %v", port.ErrTokenMalformed, err)
	}

	claims := &domain.TokenClaims{
		ID:                parsed.ID,
		Subject:           parsed.Subject,
		Email:             parsed.Email,
		Role:              role,
		Kind:              kind,
		PasswordChangedAt: changedAt,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// JWKS renders the public verification keys as a JSON Web Key Set. HS256
// codecs publish an empty set.
func (c *JWTCodec) JWKS() ([]byte, error) {
	keys := make([]map[string]string, 0)
	if c.keys != nil {
		published := c.keys.VerificationKeys()
		kids := make([]string, 0, len(published))
		for kid := range published {
			kids = append(kids, kid)
		}
		sort.Strings(kids)
		for _, kid := range kids {
			if key := published[kid]; key != nil {
				keys = append(keys, buildJWK(kid, key))
			}
		}
	}
	return json.Marshal(map[string]any{"keys": keys})
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

var _ port.TokenCodec = (*JWTCodec)(nil)
