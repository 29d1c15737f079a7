package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// HashKey returns the hex SHA-256 digest stored for a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new raw API key: 32 lowercase hex characters.
func GenerateKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
