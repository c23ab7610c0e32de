// Package sha256 names content-addressed snapshots with SHA-256 digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements newsletter.Hasher.
type Hasher struct {
	// Length truncates the hex digest when positive.
	Length int
}

// New returns a hasher producing full 64-character digests.
func New() *Hasher {
	return &Hasher{}
}

// NewShort returns a hasher producing digests truncated to length characters.
func NewShort(length int) *Hasher {
	return &Hasher{Length: length}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Length > 0 && h.Length < len(digest) {
		digest = digest[:h.Length]
	}
	return digest, nil
}
