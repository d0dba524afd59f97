// Package cas provides content hashing and content-addressable byte storage.
//
// Every element in the object repository is keyed by the BLAKE3-256 digest of
// its serialized bytes. Hashes print as lowercase hex; they can also be rendered
// and parsed as CIDv1 strings (raw codec, blake3 multihash) for interop with
// IPFS-style tooling.
package cas

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"lukechampine.com/blake3"
)

// Size is the length of a Hash in bytes.
const Size = 32

// Hash represents a BLAKE3-256 hash value.
type Hash [Size]byte

// String returns the hexadecimal representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for display.
func (h Hash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// CID renders the hash as a base32 CIDv1 with a blake3 multihash.
func (h Hash) CID() (string, error) {
	mh, err := multihash.Encode(h[:], multihash.BLAKE3)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, multihash.Multihash(mh))
	return c.StringOfBase(multibase.Base32)
}

// Sum computes the BLAKE3 hash of the given data.
func Sum(data []byte) Hash {
	return blake3.Sum256(data)
}

// FromBytes converts a 32-byte slice into a Hash.
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != Size {
		return h, fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseHash parses a hash given either as 64 hex characters or as a CIDv1
// string carrying a blake3-256 multihash.
func ParseHash(s string) (Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) == 2*Size {
		b, err := hex.DecodeString(s)
		if err == nil {
			return FromBytes(b)
		}
	}

	c, err := gocid.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: neither hex nor CID", s)
	}
	dm, err := multihash.Decode(c.Hash())
	if err != nil {
		return Hash{}, fmt.Errorf("decode multihash: %w", err)
	}
	if dm.Code != multihash.BLAKE3 {
		return Hash{}, fmt.Errorf("unsupported multihash %s in %q", dm.Name, s)
	}
	return FromBytes(dm.Digest)
}

// CAS defines the content-addressable storage interface.
type CAS interface {
	// Put stores data keyed by its hash.
	Put(hash Hash, data []byte) error

	// Get retrieves data by its hash.
	Get(hash Hash) ([]byte, error)

	// Has checks if data exists for the given hash.
	Has(hash Hash) (bool, error)
}

// MemoryCAS implements CAS using in-memory storage with thread-safe access.
type MemoryCAS struct {
	mu   sync.RWMutex
	data map[Hash][]byte
}

// NewMemoryCAS creates a new in-memory CAS.
func NewMemoryCAS() *MemoryCAS {
	return &MemoryCAS{
		data: make(map[Hash][]byte),
	}
}

// Put implements CAS.Put.
func (m *MemoryCAS) Put(hash Hash, data []byte) error {
	computed := Sum(data)
	if computed != hash {
		return &MismatchError{Expected: hash, Computed: computed}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.data[hash] = dataCopy

	return nil
}

// Get implements CAS.Get.
func (m *MemoryCAS) Get(hash Hash) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.data[hash]
	if !exists {
		return nil, &NotFoundError{Hash: hash}
	}

	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// Has implements CAS.Has.
func (m *MemoryCAS) Has(hash Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.data[hash]
	return exists, nil
}

// Len returns the number of objects stored in the CAS.
func (m *MemoryCAS) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// NotFoundError is returned by Get when no data is stored under Hash.
type NotFoundError struct {
	Hash Hash
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("hash not found: %s", e.Hash)
}

// MismatchError reports data whose digest differs from the key it is stored
// or requested under.
type MismatchError struct {
	Expected Hash
	Computed Hash
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, got %s", e.Expected, e.Computed)
}
