// Package file provides a JSON-file key-value store. It is the default
// persistence provider for clients that have no database: the whole keyspace
// lives in one file, rewritten atomically on every change.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	syncengine "github.com/kinetra/sync-engine"
	syncErrors "github.com/kinetra/sync-engine/errors"
)

var _ syncengine.Store = (*Store)(nil)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("file store is closed")

// Store is a file-backed key-value store. Safe for concurrent use; every
// mutation is flushed to disk before it returns.
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "file-store")
	}
}

// New opens or creates the store at path. A missing file starts an empty
// store; a corrupted file is logged and discarded rather than failing open,
// so a bad shutdown never bricks the client.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Store{
		path:   path,
		logger: slog.Default().With("component", "file-store"),
		data:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("store file corrupted, starting empty", "path", s.path, "error", err)
		return nil
	}
	s.data = data
	return nil
}

// flush writes the whole keyspace to a temp file and renames it over the
// store path, so readers never observe a partially written file.
func (s *Store) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	return nil
}

// Get returns the value stored under key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, syncErrors.NewStorageError(syncErrors.OpLoad, ErrStoreClosed)
	}
	v, ok := s.data[key]
	return v, ok, nil
}

// Set writes value under key and flushes to disk.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpPersist, ErrStoreClosed)
	}
	s.data[key] = value
	return s.flush()
}

// Delete removes key and flushes to disk. Deleting a missing key is not an
// error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpPersist, ErrStoreClosed)
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

// Close marks the store closed. The file already holds the latest state, so
// there is nothing to flush. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
