// Package sha256 derives stable, fixed-length keys from arbitrary strings.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Key namespaces the digest of s under prefix, e.g. "ocr:text:<hex>".
func (h *Hasher) Key(prefix, s string) string {
	sum := sha256.Sum256([]byte(s))
	if prefix == "" {
		return hex.EncodeToString(sum[:])
	}
	return prefix + ":" + hex.EncodeToString(sum[:])
}
