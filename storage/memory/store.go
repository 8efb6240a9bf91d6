// Package memory provides a volatile in-memory key-value store, useful for
// tests and for callers that explicitly opt out of durability.
package memory

import (
	"sync"

	syncengine "github.com/kinetra/sync-engine"
)

var _ syncengine.Store = (*Store)(nil)

// Store is a map-backed key-value store. Safe for concurrent use. Contents
// are lost when the process exits.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Close() error { return nil }
