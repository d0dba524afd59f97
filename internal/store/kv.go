package store

import (
	"errors"
	"time"

	"go.etcd.io/bbolt"
)

// Buckets
var (
	BucketElements  = []byte("elements")  // element key hex -> envelope without value
	BucketHeads     = []byte("heads")     // repository key -> encoded head element
	BucketNicknames = []byte("nicknames") // branch nickname -> branch key
	BucketStashes   = []byte("stashes")   // stash name -> root element key hex
	BucketState     = []byte("state")     // local checkout state
	BucketConfig    = []byte("config")    // repository configuration
)

var allBuckets = [][]byte{
	BucketElements, BucketHeads, BucketNicknames, BucketStashes, BucketState, BucketConfig,
}

// ErrNotFound is returned by lookups that find no value.
var ErrNotFound = errors.New("key not found")

type DB struct{ *bbolt.DB }

// lockTimeout bounds the wait for another process holding the file lock.
const lockTimeout = 2 * time.Second

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0666, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, err
	}
	// Ensure buckets exist
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func (db *DB) Close() error { return db.DB.Close() }

func (db *DB) put(bucket []byte, key string, value []byte) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), value)
	})
}

// get copies the value out; bbolt memory is only valid inside the transaction.
func (db *DB) get(bucket []byte, key string) ([]byte, error) {
	var out []byte
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (db *DB) del(bucket []byte, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (db *DB) keys(bucket []byte) ([]string, error) {
	var out []string
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (db *DB) all(bucket []byte) (map[string]string, error) {
	out := make(map[string]string)
	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// PutElementMeta records the metadata envelope of an element.
func (db *DB) PutElementMeta(keyHex string, meta []byte) error {
	return db.put(BucketElements, keyHex, meta)
}

// GetElementMeta returns the metadata envelope stored for keyHex.
func (db *DB) GetElementMeta(keyHex string) ([]byte, error) {
	return db.get(BucketElements, keyHex)
}

// HasElement reports whether metadata exists for keyHex.
func (db *DB) HasElement(keyHex string) (bool, error) {
	var ok bool
	err := db.View(func(tx *bbolt.Tx) error {
		ok = tx.Bucket(BucketElements).Get([]byte(keyHex)) != nil
		return nil
	})
	return ok, err
}

// ElementKeys lists every indexed element key.
func (db *DB) ElementKeys() ([]string, error) {
	return db.keys(BucketElements)
}

// PutHead stores the encoded head element of a repository.
func (db *DB) PutHead(repositoryKey string, encoded []byte) error {
	return db.put(BucketHeads, repositoryKey, encoded)
}

// GetHead returns the encoded head element of a repository.
func (db *DB) GetHead(repositoryKey string) ([]byte, error) {
	return db.get(BucketHeads, repositoryKey)
}

// Repositories lists the keys of stored repository heads.
func (db *DB) Repositories() ([]string, error) {
	return db.keys(BucketHeads)
}

// PutNickname maps a local branch nickname to a branch key.
func (db *DB) PutNickname(nickname, branchKey string) error {
	return db.put(BucketNicknames, nickname, []byte(branchKey))
}

// RemoveNickname drops a nickname.
func (db *DB) RemoveNickname(nickname string) error {
	return db.del(BucketNicknames, nickname)
}

// Nicknames returns every nickname mapping.
func (db *DB) Nicknames() (map[string]string, error) {
	return db.all(BucketNicknames)
}

// PutStash records the root element key of a named stash.
func (db *DB) PutStash(name, rootHex string) error {
	return db.put(BucketStashes, name, []byte(rootHex))
}

// RemoveStash drops a named stash.
func (db *DB) RemoveStash(name string) error {
	return db.del(BucketStashes, name)
}

// Stashes returns every stash mapping.
func (db *DB) Stashes() (map[string]string, error) {
	return db.all(BucketStashes)
}

// PutState stores a local checkout state value.
func (db *DB) PutState(key, value string) error {
	return db.put(BucketState, key, []byte(value))
}

// GetState retrieves a local checkout state value.
func (db *DB) GetState(key string) (string, error) {
	v, err := db.get(BucketState, key)
	return string(v), err
}

// PutConfig stores a configuration key-value pair.
func (db *DB) PutConfig(key, value string) error {
	return db.put(BucketConfig, key, []byte(value))
}

// GetConfig retrieves a configuration value by key.
func (db *DB) GetConfig(key string) (string, error) {
	v, err := db.get(BucketConfig, key)
	return string(v), err
}

// RemoveConfig removes a configuration key-value pair.
func (db *DB) RemoveConfig(key string) error {
	return db.del(BucketConfig, key)
}
