// Package sha256 provides SHA-256 artifact digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Algorithm labels digests produced by Hasher.
const Algorithm = "sha256"

// Hasher implements frame.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns "sha256:<hex>" for data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Algorithm + ":" + hex.EncodeToString(sum[:]), nil
}
