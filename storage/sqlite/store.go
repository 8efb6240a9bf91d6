// Package sqlite provides a SQLite-backed key-value store for persisting the
// sync engine's queues on devices where an application database already
// exists.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	syncengine "github.com/kinetra/sync-engine"
	syncErrors "github.com/kinetra/sync-engine/errors"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ syncengine.Store = (*Store)(nil)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("sqlite store is closed")

// Config holds configuration options for the SQLite store.
//
// Production-ready defaults are applied by DefaultConfig() including WAL mode
// and a bounded connection pool.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:sync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging for better concurrency. When
	// true and the DSN carries no journal mode, "?_journal_mode=WAL" is
	// appended.
	EnableWAL bool

	// TableName is the name of the key-value table. Defaults to "sync_kv".
	TableName string

	// Connection pool settings. A mobile-embedded database needs far fewer
	// connections than a server; the defaults are deliberately small.
	MaxOpenConns    int           // Default: 4
	MaxIdleConns    int           // Default: 2
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "sync_kv"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		if strings.Contains(c.DataSourceName, "?") {
			c.DataSourceName += "&_journal_mode=WAL"
		} else {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store is a SQLite-backed key-value store. Safe for concurrent use.
type Store struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	tableName string
}

// New creates a Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:        db,
		tableName: config.TableName,
	}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}
	return store, nil
}

// NewWithDataSource is a convenience constructor using DefaultConfig.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *Store) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        key         TEXT PRIMARY KEY,
        value       TEXT NOT NULL,
        updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
    );
    `, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

// Get returns the value stored under key and whether it exists.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, syncErrors.NewStorageError(syncErrors.OpLoad, ErrStoreClosed)
	}

	var value string
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.tableName)
	err := s.db.QueryRow(query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return value, true, nil
}

// Set writes value under key, replacing any existing value.
func (s *Store) Set(key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpPersist, ErrStoreClosed)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
    `, s.tableName)
	if _, err := s.db.Exec(query, key, value); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.NewStorageError(syncErrors.OpPersist, ErrStoreClosed)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.tableName)
	if _, err := s.db.Exec(query, key); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}
	return nil
}

// Close releases the database handle. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
