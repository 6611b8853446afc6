package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sha256Hex returns the lowercase hex SHA-256 of input.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HashKey builds a Redis key of the form prefix:sha256(parts joined by "\n").
func HashKey(prefix string, parts ...string) string {
	return prefix + ":" + Sha256Hex(strings.Join(parts, "\n"))
}
