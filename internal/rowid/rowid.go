// Package rowid derives physical row identifiers from logical row keys.
//
// A row is addressed by (keyspace, family, key). Backends never store that
// triple verbatim: they store a digest of "keyspace:family:key", rendered with
// unpadded URL-safe base64. The first character of the rendered digest is the
// shard selector used by statement resolution.
//
// The digest input is the literal concatenation by default. Appending
// "+nfc" to the algorithm name ("sha256+nfc") NFC-normalizes each component
// first, so canonically equivalent spellings address the same row; such ids
// differ from the literal ones for non-NFC input.
package rowid

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultAlgorithm is used when no rowid-hash is configured.
const DefaultAlgorithm = "sha256"

// NFCSuffix on an algorithm name turns on NFC normalization of row keys.
const NFCSuffix = "+nfc"

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Algorithms returns the supported digest names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hasher computes row ids with a fixed digest algorithm.
//
// Thread-safety: a Hasher is stateless after construction; every call uses
// a fresh digest, so it is safe for concurrent use.
type Hasher struct {
	algorithm string
	nfc       bool
	newHash   func() hash.Hash
}

// New returns a Hasher for the named algorithm. An empty name selects
// DefaultAlgorithm. Names are case-insensitive and may use the JCA style
// spelling ("SHA-256"), optionally followed by NFCSuffix.
func New(algorithm string) (*Hasher, error) {
	name := strings.ToLower(strings.ReplaceAll(algorithm, "-", ""))
	name, nfc := strings.CutSuffix(name, NFCSuffix)
	if name == "" {
		name = DefaultAlgorithm
	}
	fn, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unsupported rowid hash %q: must be one of %v, optionally with %q", algorithm, Algorithms(), NFCSuffix)
	}
	return &Hasher{algorithm: name, nfc: nfc, newHash: fn}, nil
}

// MustNew is like New but panics on error.
// Use only in tests or with constant algorithm names.
func MustNew(algorithm string) *Hasher {
	h, err := New(algorithm)
	if err != nil {
		panic(err)
	}
	return h
}

// Algorithm returns the normalized digest name, with NFCSuffix when
// normalization is on.
func (h *Hasher) Algorithm() string {
	if h.nfc {
		return h.algorithm + NFCSuffix
	}
	return h.algorithm
}

// RowID returns the physical row id for (keyspace, family, key).
func (h *Hasher) RowID(keyspace, family, key string) string {
	if h.nfc {
		keyspace, family, key = norm.NFC.String(keyspace), norm.NFC.String(family), norm.NFC.String(key)
	}
	d := h.newHash()
	d.Write([]byte(Key(keyspace, family, key)))
	return base64.RawURLEncoding.EncodeToString(d.Sum(nil))
}

// Key returns the readable "keyspace:family:key" form of a row key, which
// is also what error messages report.
func Key(keyspace, family, key string) string {
	return keyspace + ":" + family + ":" + key
}

// Shard returns the shard selector of a row id: its first character.
// An empty row id has no shard.
func Shard(rid string) string {
	if rid == "" {
		return ""
	}
	return rid[:1]
}
