// Package dedup decides whether a failure is new inside the retention window.
//
// A failure identity is the triple (check name, failure kind, detail digest). The Guard records
// an identity by inserting it; the store's primary key rejects a second insert, and that
// rejection is the only signal that the failure was already notified. The Sweeper forgets
// identities older than the retention period so that a persistent failure notifies again once
// per window.
package dedup

import (
	"crypto/sha1" //nolint:gosec // identity matching only
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/monitorhub/dispatcher/internal/storage"
)

// DigestSize is the length of every failure digest.
const DigestSize = storage.DigestSize

// Algorithm selects the digest function. Both produce DigestSize bytes.
type Algorithm string

const (
	AlgorithmSHA1    Algorithm = "sha1"
	AlgorithmBLAKE2b Algorithm = "blake2b"
)

// ErrUnknownAlgorithm is returned for an algorithm other than sha1 or blake2b.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

// Hasher derives the fixed-length fingerprint of a failure detail.
// A Hasher is stateless and safe for concurrent use.
type Hasher struct {
	algorithm    Algorithm
	canonicalize bool
}

// ParseAlgorithm maps a configuration string to an Algorithm. Empty means sha1.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmSHA1:
		return AlgorithmSHA1, nil
	case AlgorithmBLAKE2b:
		return AlgorithmBLAKE2b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// NewHasher returns a Hasher for algorithm. With canonicalize set, details pass through
// Canonicalize before hashing.
func NewHasher(algorithm Algorithm, canonicalize bool) (*Hasher, error) {
	if _, err := newHash(algorithm); err != nil {
		return nil, err
	}

	return &Hasher{algorithm: algorithm, canonicalize: canonicalize}, nil
}

// Algorithm reports the configured digest function.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Digest returns the DigestSize-byte fingerprint of detail.
// Identical detail text always yields the identical digest.
func (h *Hasher) Digest(detail string) []byte {
	if h.canonicalize {
		detail = Canonicalize(detail)
	}

	hh, _ := newHash(h.algorithm) // validated in NewHasher
	_, _ = hh.Write([]byte(detail))

	return hh.Sum(nil)
}

func newHash(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA1:
		return sha1.New(), nil //nolint:gosec // identity matching only
	case AlgorithmBLAKE2b:
		hh, err := blake2b.New(DigestSize, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create blake2b hash: %w", err)
		}

		return hh, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}
