package file

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/creachadair/atomicfile"

	"github.com/incubed/in3-go/light/store"
)

// fileStore keeps every key in its own file inside a directory. Files are
// replaced atomically, so a crash never leaves a half written value behind.
type fileStore struct {
	dir string

	mtx sync.RWMutex
}

// New returns a Store writing to dir, creating the directory if needed.
func New(dir string) (store.Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(key []byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(key)+".bin")
}

func (s *fileStore) Get(key []byte) ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	bz, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return bz, nil
}

func (s *fileStore) Set(key, value []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, err := atomicfile.WriteAll(s.path(key), bytes.NewReader(value), 0o600); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

func (s *fileStore) Delete(key []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
