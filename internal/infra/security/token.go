package security

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken calculates the SHA-256 hex digest stored in place of a raw refresh token.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
