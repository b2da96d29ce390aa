// Package store persists all gateway state in a single embedded SQLite
// database. Every row the process owns lives here; handlers only ever
// hold value copies.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/reclaw/reclaw/internal/domain"
)

// Store wraps the SQLite pool. Safe for concurrent use.
type Store struct {
	db   *sqlx.DB
	path string
	lock *flock.Flock
}

// Open ensures the parent directory, takes an exclusive advisory lock
// next to the database file (two gateways must never share one store),
// applies migrations, and enables WAL plus foreign keys.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.Storagef("failed to create parent directory: %v", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, domain.Storagef("failed to lock database: %v", err)
	}
	if !locked {
		return nil, domain.Storagef("database is locked by another gateway process: %s", path)
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, domain.Storagef("failed to open sqlite database: %v", err)
	}

	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, domain.Storagef("failed to apply %q: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path, lock: lock}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory() (*Store, error) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		return nil, domain.Storagef("failed to open in-memory sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: ":memory:"}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	if err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
