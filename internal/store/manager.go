package store

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Handles on the same database file share one bbolt database. A process
// can then open a store directory more than once, say as a clone's origin
// and as a peer, without waiting on its own file lock.
var (
	sharedMu sync.Mutex
	shared   = map[string]*sharedEntry{}
)

type sharedEntry struct {
	db   *DB
	refs int
}

// SharedDB is a reference-counted handle returned by OpenShared.
type SharedDB struct {
	*DB
	path string
	once sync.Once
}

// OpenShared opens the database at path, or takes another reference to it
// when this process already has it open.
func OpenShared(path string) (*SharedDB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()

	e, ok := shared[abs]
	if !ok {
		db, err := Open(abs)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		e = &sharedEntry{db: db}
		shared[abs] = e
	}
	e.refs++
	return &SharedDB{DB: e.db, path: abs}, nil
}

// Close drops the reference and closes the database when it was the last
// one. Further calls do nothing.
func (s *SharedDB) Close() error {
	var err error
	s.once.Do(func() {
		sharedMu.Lock()
		defer sharedMu.Unlock()
		e := shared[s.path]
		if e == nil {
			return
		}
		e.refs--
		if e.refs == 0 {
			delete(shared, s.path)
			err = e.db.Close()
		}
	})
	return err
}
