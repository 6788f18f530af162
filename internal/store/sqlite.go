package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/SteelMorgan/nginx-sqlize/internal/retry"
)

// ErrClosed is returned by operations on a closed Store
var ErrClosed = errors.New("store is closed")

// Store owns the records and file_progress tables of one SQLite file
type Store struct {
	db    *sql.DB
	path  string
	retry retry.Config
}

// Option customises Open
type Option func(*Store)

// WithRetry sets the retry policy used around write transactions
func WithRetry(cfg retry.Config) Option {
	return func(s *Store) {
		s.retry = cfg
	}
}

// Open opens (or creates) the database at path and applies migrations
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path, retry: retry.DefaultConfig()}
	for _, opt := range opts {
		opt(s)
	}

	log.Info().
		Str("db_path", path).
		Msg("SQLite store initialized")

	return s, nil
}

// OpenDB opens a SQLite database at path with WAL journal mode,
// synchronous=NORMAL, foreign_keys=ON and busy_timeout=5000.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	// Single writer
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// DB exposes the handle for read-only reporting queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	log.Debug().Str("db_path", s.path).Msg("Closing SQLite store")
	err := s.db.Close()
	s.db = nil
	return err
}

// withTx runs fn in one transaction, retrying the whole unit on busy errors
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrClosed
	}
	return retry.Do(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
