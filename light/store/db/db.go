package db

import (
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/incubed/in3-go/light/store"
)

type dbs struct {
	db     dbm.DB
	prefix string

	mtx sync.RWMutex
}

// New returns a Store that wraps any DB (with an optional prefix in case you
// want to use one DB with many clients).
//
// Keys are encoded with orderedcode as (prefix, key).
func New(db dbm.DB, prefix string) store.Store {
	return &dbs{db: db, prefix: prefix}
}

// NewMem returns a Store backed by an in-memory DB.
func NewMem() store.Store {
	return New(dbm.NewMemDB(), "")
}

// Open opens (or creates) a goleveldb database called name in dir.
func Open(name, dir string) (store.Store, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("open %s in %s: %w", name, dir, err)
	}
	return New(db, ""), nil
}

// Get loads the value stored under key.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) Get(key []byte) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	bz, err := s.db.Get(s.key(key))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, store.ErrNotFound
	}
	return bz, nil
}

// Set persists value under key and syncs the write.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) Set(key, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("empty value for key %q", key)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(s.key(key), value); err != nil {
		return err
	}
	return b.WriteSync()
}

// Delete removes key.
//
// Safe for concurrent use by multiple goroutines.
func (s *dbs) Delete(key []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.db.DeleteSync(s.key(key))
}

func (s *dbs) key(key []byte) []byte {
	k, err := orderedcode.Append(nil, s.prefix, string(key))
	if err != nil {
		panic(err)
	}
	return k
}
