package store

import (
	"crypto/sha256"
	"fmt"
)

// ContentHash is the fingerprint hash persisted for a file. Byte-identical
// content always hashes the same, so unchanged files skip re-extraction.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
