// Package sha256 names failure snapshots by the SHA-256 of their content, so
// identical pages within a run collapse onto one object.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Hasher implements crawler.Hasher.
type Hasher struct {
	length int
}

// New returns a Hasher producing the full 64-character hex digest.
func New() *Hasher {
	return &Hasher{length: hex.EncodedLen(sha256.Size)}
}

// NewTruncated returns a Hasher that keeps the first n hex characters of the
// digest. n is clamped to [8, 64].
func NewTruncated(n int) *Hasher {
	full := hex.EncodedLen(sha256.Size)
	switch {
	case n < 8:
		n = 8
	case n > full:
		n = full
	}
	return &Hasher{length: n}
}

// Hash returns the hex digest of data. Empty content has nothing worth
// addressing and is rejected.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("hash: empty content")
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h == nil || h.length <= 0 || h.length >= len(digest) {
		return digest, nil
	}
	return digest[:h.length], nil
}

// String describes the digest format, e.g. for log fields.
func (h *Hasher) String() string {
	n := hex.EncodedLen(sha256.Size)
	if h != nil && h.length > 0 {
		n = h.length
	}
	return fmt.Sprintf("sha256/%d", n)
}
