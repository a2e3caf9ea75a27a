package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"

	"github.com/jonwraymond/udfcache/batch"
)

// ErrUnknownHash indicates an unsupported digest algorithm name.
var ErrUnknownHash = errors.New("cache: unknown hash algorithm")

// Keyer derives whole-argument keys from UDF input.
//
// Contract:
//   - Determinism: structurally equal batches with the same column order and
//     row order produce the same key. Batches differing only in row order
//     produce different keys (with overwhelming probability).
//   - Keys may collide; callers confirm hits with batch.Equal.
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key returns the whole-argument key of input.
	Key(input *batch.Batch) (string, error)
}

// KeyerFunc adapts a function to Keyer.
type KeyerFunc func(input *batch.Batch) (string, error)

// Key calls f(input).
func (f KeyerFunc) Key(input *batch.Batch) (string, error) { return f(input) }

// HashAlgorithm names a digest for DigestKeyer.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashXXHash HashAlgorithm = "xxhash"
	HashBLAKE3 HashAlgorithm = "blake3"
)

// ParseHashAlgorithm parses an algorithm name. The empty string selects
// SHA-256.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch HashAlgorithm(strings.ToLower(name)) {
	case "", HashSHA256:
		return HashSHA256, nil
	case HashXXHash:
		return HashXXHash, nil
	case HashBLAKE3:
		return HashBLAKE3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownHash, name)
	}
}

// DigestKeyer hashes the canonical encoding of a batch.
type DigestKeyer struct {
	algo HashAlgorithm
}

// NewDigestKeyer creates a keyer for algo.
func NewDigestKeyer(algo HashAlgorithm) (*DigestKeyer, error) {
	algo, err := ParseHashAlgorithm(string(algo))
	if err != nil {
		return nil, err
	}
	return &DigestKeyer{algo: algo}, nil
}

// Algorithm returns the keyer's digest algorithm.
func (k *DigestKeyer) Algorithm() HashAlgorithm { return k.algo }

// Key returns the hex digest of input's canonical encoding.
// Format: <algorithm>:<hex>
func (k *DigestKeyer) Key(input *batch.Batch) (string, error) {
	canonical, err := input.Canonical()
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize input: %w", err)
	}

	var sum []byte
	switch k.algo {
	case HashXXHash:
		sum = binary.BigEndian.AppendUint64(nil, xxhash.Sum64(canonical))
	case HashBLAKE3:
		d := blake3.Sum256(canonical)
		sum = d[:]
	default:
		d := sha256.Sum256(canonical)
		sum = d[:]
	}
	return string(k.algo) + ":" + hex.EncodeToString(sum), nil
}

var defaultKeyer = &DigestKeyer{algo: HashSHA256}

// ArgumentKey returns the SHA-256 whole-argument key of input.
func ArgumentKey(input *batch.Batch) (string, error) {
	return defaultKeyer.Key(input)
}

// RowKey returns the row-level key of one row: <index>.<value>, prefixed
// with <source>/ when the rows carry a source identity.
func RowKey(source, index string, value any) string {
	key := index + "." + batch.FormatValue(value)
	if source != "" {
		return source + "/" + key
	}
	return key
}

var (
	_ Keyer = (*DigestKeyer)(nil)
	_ Keyer = KeyerFunc(nil)
)
