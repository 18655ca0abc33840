package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the read/update contract over the registry document. The
// concrete implementations are FileStore (production) and MemStore
// (tests). Update applies the mutator to the current state, persists
// the result, and returns the new state; a failed persist must leave
// the prior state intact.
type Store interface {
	Read() (*Registry, error)
	Update(mutate func(*Registry) error) (*Registry, error)
}

// FileStore persists the registry as a JSON document at a fixed path.
//
// Writers serialize on an in-process mutex: the backing file has no
// native transactions, so each Update must observe the result of every
// previously completed Update. Single-hub-process operation is assumed;
// there is no cross-process lock.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// Open returns a FileStore backed by path. The file does not need to
// exist yet; a missing document reads as an empty registry.
func Open(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Read loads the current document. Concurrent with Update it returns
// either the prior or the new state, never a torn one.
func (s *FileStore) Read() (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update loads the document, applies mutate in place, and writes the
// result back crash-safely: the new document is written to a temp file
// in the same directory and renamed over the old one, so a failure at
// any point leaves the previous on-disk state whole.
func (s *FileStore) Update(mutate func(*Registry) error) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	if err := mutate(reg); err != nil {
		return nil, err
	}
	if err := s.write(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *FileStore) load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", s.path, err)
	}
	reg := NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", s.path, err)
	}
	if reg.Drones == nil {
		reg.Drones = map[string]*Drone{}
	}
	if reg.Groups == nil {
		reg.Groups = map[string]*Group{}
	}
	return reg, nil
}

func (s *FileStore) write(reg *Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("registry: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("registry: replace %s: %w", s.path, err)
	}
	return nil
}

// MemStore is an in-memory Store for tests. It applies mutators to a
// deep copy so a failed mutation never leaks partial changes, matching
// FileStore's all-or-nothing behavior.
type MemStore struct {
	mu  sync.Mutex
	reg *Registry

	// FailWrites, when set, makes Update fail after the mutator ran,
	// without committing. Simulates an unwritable backing file.
	FailWrites bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{reg: NewRegistry()}
}

// Read returns a deep copy of the current state.
func (s *MemStore) Read() (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.reg)
}

// Update applies mutate to a copy and commits it on success.
func (s *MemStore) Update(mutate func(*Registry) error) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := clone(s.reg)
	if err != nil {
		return nil, err
	}
	if err := mutate(next); err != nil {
		return nil, err
	}
	if s.FailWrites {
		return nil, fmt.Errorf("registry: write: %w", os.ErrPermission)
	}
	s.reg = next
	out, err := clone(next)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func clone(reg *Registry) (*Registry, error) {
	data, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("registry: clone: %w", err)
	}
	out := NewRegistry()
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("registry: clone: %w", err)
	}
	if out.Drones == nil {
		out.Drones = map[string]*Drone{}
	}
	if out.Groups == nil {
		out.Groups = map[string]*Group{}
	}
	return out, nil
}
