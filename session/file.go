package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a Store persisted as a JSON object in a single file. Every write rewrites the
// file through a temporary file and a rename.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

var _ Store = (*FileStore)(nil)

// OpenFileStore loads the store at path. A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file %s: %w", path, err)
	}
	if len(b) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(b, &s.mem.values); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", path, err)
	}
	if s.mem.values == nil {
		s.mem.values = map[string]string{}
	}

	return s, nil
}

// Get returns the value of key or ErrNotFound.
func (s *FileStore) Get(key string) (string, error) {
	return s.mem.Get(key)
}

// Set stores value under key and persists the store.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Set(key, value); err != nil {
		return err
	}

	return s.flush()
}

// Delete removes the keys and persists the store.
func (s *FileStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Delete(keys...); err != nil {
		return err
	}

	return s.flush()
}

func (s *FileStore) flush() error {
	b, err := json.MarshalIndent(s.mem.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set session file mode: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}
