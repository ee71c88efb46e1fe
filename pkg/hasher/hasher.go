// Package hasher computes file content digests for replication verification.
//
// The algorithm is chosen once per deployment and recorded durably by the
// queue store; digests produced by different algorithms are never compared.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorq/mirrorq/pkg/bufpool"
)

// Algorithm identifies a content-hash algorithm.
type Algorithm string

const (
	// SHA256 is the cryptographic default.
	SHA256 Algorithm = "sha256"

	// XXHash64 is a fast non-cryptographic 64-bit hash for trusted storage.
	XXHash64 Algorithm = "xxhash64"

	// XXHash3 is the fastest option, a 128-bit xxh3 digest.
	XXHash3 Algorithm = "xxhash3"
)

// ErrUnknownAlgorithm is returned for an algorithm name outside the
// supported set.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// DefaultAlgorithm is used when configuration does not name one.
const DefaultAlgorithm = XXHash64

// IsValid reports whether a names a supported algorithm.
func (a Algorithm) IsValid() bool {
	switch a {
	case SHA256, XXHash64, XXHash3:
		return true
	}
	return false
}

// xxh3Wrapper adapts xxh3's 128-bit hasher to the hash.Hash interface.
type xxh3Wrapper struct {
	*xxh3.Hasher
}

func (w xxh3Wrapper) Sum(b []byte) []byte {
	s := w.Sum128().Bytes()
	return append(b, s[:]...)
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case XXHash64:
		return xxhash.New(), nil
	case XXHash3:
		return xxh3Wrapper{xxh3.New()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, a)
}

// Hasher computes hex digests of file contents with a fixed algorithm.
type Hasher struct {
	algorithm Algorithm
}

// New creates a Hasher, validating the algorithm.
func New(algorithm Algorithm) (*Hasher, error) {
	if !algorithm.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	return &Hasher{algorithm: algorithm}, nil
}

// Algorithm returns the configured algorithm.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// HashFile streams the file through the algorithm and returns the lowercase
// hex digest. Cancellation is observed between read chunks.
func (h *Hasher) HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return h.HashReader(ctx, f)
}

// HashReader streams r through the algorithm and returns the lowercase hex
// digest.
func (h *Hasher) HashReader(ctx context.Context, r io.Reader) (string, error) {
	hasher, err := h.algorithm.New()
	if err != nil {
		return "", err
	}

	buf := bufpool.Get(bufpool.DefaultHashSize)
	defer bufpool.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashPair hashes two files in parallel and returns their digests in order.
// Used before overwriting an existing destination, where both sides must be
// read anyway.
func (h *Hasher) HashPair(ctx context.Context, pathA, pathB string) (string, string, error) {
	var digestA, digestB string

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		digestA, err = h.HashFile(ctx, pathA)
		return err
	})
	g.Go(func() error {
		var err error
		digestB, err = h.HashFile(ctx, pathB)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return digestA, digestB, nil
}
