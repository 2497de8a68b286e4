// Package blake3 provides BLAKE3 content digests for persisted artifacts.
package blake3

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Algorithm labels digests produced by Hasher.
const Algorithm = "blake3"

// Hasher implements frame.Hasher using unkeyed BLAKE3-256.
type Hasher struct{}

// New returns a BLAKE3 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns "blake3:<hex>" for data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := blake3.Sum256(data)
	return Algorithm + ":" + hex.EncodeToString(sum[:]), nil
}
