package element

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/store"
)

// Store holds hashed elements. Stores are append-only: writing the same key
// twice is a no-op. Implementations must be safe for concurrent use.
//
// Stores do not verify elements on write; integrity is checked when an
// element is loaded into a repository.
type Store interface {
	Put(e *Element) error
	// Get returns an error of kind NotFound when key is absent.
	Get(key cas.Hash) (*Element, error)
	Has(key cas.Hash) (bool, error)
	Keys() ([]cas.Hash, error)
}

func notFound(op errors.Op, key cas.Hash) error {
	return errors.E(op, errors.NotFound, &cas.NotFoundError{Hash: key})
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	elements map[cas.Hash]*Element
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{elements: make(map[cas.Hash]*Element)}
}

func (m *MemoryStore) Put(e *Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.elements[e.Key]; ok {
		return nil
	}
	m.elements[e.Key] = e.Clone()
	return nil
}

func (m *MemoryStore) Get(key cas.Hash) (*Element, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.elements[key]
	if !ok {
		return nil, notFound("element.MemoryStore.Get", key)
	}
	return e.Clone(), nil
}

func (m *MemoryStore) Has(key cas.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.elements[key]
	return ok, nil
}

func (m *MemoryStore) Keys() ([]cas.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]cas.Hash, 0, len(m.elements))
	for k := range m.elements {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b cas.Hash) int { return slices.Compare(a[:], b[:]) })
	return out, nil
}

// Len returns the number of stored elements.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.elements)
}

// CASStore keeps element values in a byte CAS and the remaining envelope
// fields in a bbolt index.
type CASStore struct {
	cas    cas.CAS
	db     *store.DB
	shared *store.SharedDB
}

// NewCASStore combines an existing CAS and index database.
func NewCASStore(c cas.CAS, db *store.DB) *CASStore {
	return &CASStore{cas: c, db: db}
}

// OpenDiskStore opens (creating if needed) a store rooted at dir: a zstd
// FileCAS under dir/objects and a bbolt index at dir/objects.db.
func OpenDiskStore(dir string) (*CASStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	fc, err := cas.NewFileCAS(filepath.Join(dir, "objects"))
	if err != nil {
		return nil, err
	}
	db, err := store.OpenShared(filepath.Join(dir, "objects.db"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return &CASStore{cas: fc, db: db.DB, shared: db}, nil
}

// DB exposes the index database for callers that persist repository state
// next to the elements.
func (s *CASStore) DB() *store.DB { return s.db }

// Close releases the index if the store opened it.
func (s *CASStore) Close() error {
	if s.shared != nil {
		return s.shared.Close()
	}
	return nil
}

func (s *CASStore) Put(e *Element) error {
	const op errors.Op = "element.CASStore.Put"
	if err := s.cas.Put(e.Key, e.Value); err != nil {
		var mm *cas.MismatchError
		if stderrors.As(err, &mm) {
			return errors.E(op, errors.Integrity, err)
		}
		return errors.E(op, err)
	}
	if err := s.db.PutElementMeta(e.Key.String(), encodeMeta(e)); err != nil {
		return errors.E(op, err)
	}
	return nil
}

func (s *CASStore) Get(key cas.Hash) (*Element, error) {
	const op errors.Op = "element.CASStore.Get"
	meta, err := s.db.GetElementMeta(key.String())
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, notFound(op, key)
	}
	if err != nil {
		return nil, errors.E(op, err)
	}
	e, err := Decode(meta)
	if err != nil {
		return nil, errors.E(op, err)
	}
	value, err := s.cas.Get(key)
	if err != nil {
		var nf *cas.NotFoundError
		var mm *cas.MismatchError
		switch {
		case stderrors.As(err, &nf):
			return nil, notFound(op, key)
		case stderrors.As(err, &mm):
			return nil, errors.E(op, errors.Integrity, err)
		}
		return nil, errors.E(op, err)
	}
	e.Value = value
	return e, nil
}

func (s *CASStore) Has(key cas.Hash) (bool, error) {
	return s.db.HasElement(key.String())
}

func (s *CASStore) Keys() ([]cas.Hash, error) {
	hexKeys, err := s.db.ElementKeys()
	if err != nil {
		return nil, err
	}
	out := make([]cas.Hash, 0, len(hexKeys))
	for _, k := range hexKeys {
		h, err := cas.ParseHash(k)
		if err != nil {
			return nil, errors.E(errors.Op("element.CASStore.Keys"), errors.Integrity, err)
		}
		out = append(out, h)
	}
	return out, nil
}
