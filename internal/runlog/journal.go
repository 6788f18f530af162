// Package runlog keeps a bbolt journal next to the SQLite database: holding
// it open makes a second ingest against the same database fail fast, and it
// records a summary of every run.
package runlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
)

const (
	bucketName = "runs"

	// DefaultLockTimeout bounds how long Open waits for another process
	DefaultLockTimeout = 1 * time.Second
)

// ErrLocked is returned when another process holds the journal
var ErrLocked = errors.New("journal is locked by another ingest run")

// Journal is an open run journal
type Journal struct {
	db   *bbolt.DB
	path string
}

// PathFor returns the journal path belonging to a database file
func PathFor(dbPath string) string {
	return dbPath + ".runs"
}

// Open opens the journal for writing, holding an exclusive lock until Close
func Open(path string, timeout time.Duration) (*Journal, error) {
	return open(path, &bbolt.Options{Timeout: timeout})
}

// OpenReadOnly opens the journal with a shared lock
func OpenReadOnly(path string, timeout time.Duration) (*Journal, error) {
	return open(path, &bbolt.Options{Timeout: timeout, ReadOnly: true})
}

func open(path string, opts *bbolt.Options) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("failed to open run journal %s: %w", path, err)
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	log.Debug().
		Str("journal", path).
		Bool("read_only", opts.ReadOnly).
		Msg("Run journal opened")

	return &Journal{db: db, path: path}, nil
}

// Record appends a run summary
func (j *Journal) Record(summary *domain.RunSummary) error {
	val, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", summary.RunID, err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put(makeKey(summary.StartTime, summary.RunID), val)
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) ([]domain.RunSummary, error) {
	var runs []domain.RunSummary

	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var s domain.RunSummary
			if err := json.Unmarshal(v, &s); err != nil {
				log.Warn().Err(err).Str("journal", j.path).Msg("Skipping unreadable run entry")
				continue
			}
			runs = append(runs, s)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close releases the lock
func (j *Journal) Close() error {
	return j.db.Close()
}

// makeKey orders entries by start time, run id breaks ties
func makeKey(start time.Time, runID string) []byte {
	key := make([]byte, 8, 8+len(runID))
	binary.BigEndian.PutUint64(key, uint64(start.UnixNano()))
	return append(key, runID...)
}
