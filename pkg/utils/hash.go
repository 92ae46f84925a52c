package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash computes the SHA-256 hex digest of a document source.
// Incremental builds compare it with the digest stored from the previous run.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
