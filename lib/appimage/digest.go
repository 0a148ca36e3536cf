// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package appimage

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// Algorithm names a digest algorithm. The name is stored in the image
// footer.
type Algorithm string

const (
	// BLAKE3 is BLAKE3 in keyed mode under the image domain key.
	BLAKE3 Algorithm = "blake3"

	// SHA256 is plain SHA-256, for bootloaders and host tools that
	// only carry a SHA-2 implementation.
	SHA256 Algorithm = "sha256"
)

// ErrUnknownAlgorithm is returned for an algorithm name this package
// does not implement.
var ErrUnknownAlgorithm = errors.New("appimage: unknown digest algorithm")

// imageDomainKey separates image digests from any other BLAKE3 use of
// the same bytes. ASCII zero-padded to 32 bytes, so it reads plainly
// in a hex dump. Changing it invalidates every BLAKE3-signed image.
var imageDomainKey = [32]byte{
	'd', 'a', 'l', 's', '.', 'a', 'p', 'p', 'i', 'm', 'a', 'g', 'e', '.',
	'd', 'i', 'g', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch algorithm := Algorithm(name); algorithm {
	case BLAKE3, SHA256:
		return algorithm, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Size returns the digest length in bytes. Both algorithms produce 32.
func (a Algorithm) Size() int {
	switch a {
	case BLAKE3, SHA256:
		return 32
	default:
		return 0
	}
}

// NewHasher returns a fresh hash.Hash for the algorithm.
func NewHasher(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case BLAKE3:
		hasher, err := blake3.NewKeyed(imageDomainKey[:])
		if err != nil {
			// NewKeyed only fails on a key that is not 32 bytes.
			panic("appimage: BLAKE3 keyed hasher creation failed: " + err.Error())
		}
		return hasher, nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

// Digest hashes everything read from r.
func Digest(algorithm Algorithm, r io.Reader) ([]byte, error) {
	hasher, err := NewHasher(algorithm)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, fmt.Errorf("hashing image: %w", err)
	}
	return hasher.Sum(nil), nil
}
