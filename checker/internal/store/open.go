// Package store persists ckanwatch state in SQLite: the last catalog
// snapshot, the missing-dataset registry, subscriptions, the run log and
// per-run probe error reports.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the ckanwatch database.
type Store struct {
	DB *sql.DB
}

type options struct {
	busyTimeout int
	mkdirAll    bool
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// Open opens (or creates) the database at path, applies the connection
// pragmas and the schema.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: 10_000}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// OpenMemory opens a schema-initialised in-memory database for tests and
// closes it on cleanup. A single connection keeps every query on the same
// in-memory database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { s.DB.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }
