// Package hash selects the content digest applied to persisted artifacts.
//
// Digests are self-describing: "<algorithm>:<hex>", so an index holding artifacts written under
// different settings stays unambiguous.
package hash

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/frame-ingest/internal/frame"
	"github.com/JakeFAU/frame-ingest/internal/hash/blake3"
	"github.com/JakeFAU/frame-ingest/internal/hash/sha256"
)

// Supported algorithm names.
const (
	AlgorithmBLAKE3 = blake3.Algorithm
	AlgorithmSHA256 = sha256.Algorithm
	AlgorithmNone   = "none"
)

// New returns the Hasher for name. An empty name selects BLAKE3; "none" returns a nil Hasher.
func New(name string) (frame.Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AlgorithmBLAKE3:
		return blake3.New(), nil
	case AlgorithmSHA256:
		return sha256.New(), nil
	case AlgorithmNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", name)
	}
}
