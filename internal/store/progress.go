package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
)

const upsertProgressSQL = `INSERT INTO file_progress (
	filename, last_position, last_processed, lines_processed, file_hash
) VALUES (?,?,?,?,?)
ON CONFLICT(filename) DO UPDATE SET
	last_position = excluded.last_position,
	last_processed = excluded.last_processed,
	lines_processed = excluded.lines_processed,
	file_hash = excluded.file_hash`

const selectProgressSQL = `SELECT filename, last_position, last_processed, lines_processed, file_hash FROM file_progress`

// UpsertProgress creates or replaces the progress entry for one file
func (s *Store) UpsertProgress(ctx context.Context, progress domain.FileProgress) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertProgress(ctx, tx, progress)
	})
}

// GetProgress returns the stored entry for filename
func (s *Store) GetProgress(ctx context.Context, filename string) (domain.FileProgress, bool, error) {
	if s.db == nil {
		return domain.FileProgress{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, selectProgressSQL+" WHERE filename = ?", filename)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FileProgress{}, false, nil
	}
	if err != nil {
		return domain.FileProgress{}, false, fmt.Errorf("failed to get progress for %s: %w", filename, err)
	}
	return p, true, nil
}

// ListProgress returns all entries ordered by filename
func (s *Store) ListProgress(ctx context.Context) ([]domain.FileProgress, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, selectProgressSQL+" ORDER BY filename")
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []domain.FileProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func upsertProgress(ctx context.Context, tx *sql.Tx, p domain.FileProgress) error {
	lastProcessed := p.LastProcessed
	if lastProcessed.IsZero() {
		lastProcessed = time.Now()
	}
	_, err := tx.ExecContext(ctx, upsertProgressSQL,
		p.Filename,
		p.LastPosition,
		lastProcessed.UTC().Format(time.RFC3339Nano),
		p.LinesProcessed,
		p.FileHash,
	)
	if err != nil {
		return fmt.Errorf("upsert progress for %s: %w", p.Filename, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (domain.FileProgress, error) {
	var (
		p             domain.FileProgress
		lastPosition  sql.NullInt64
		lastProcessed sql.NullString
		lines         sql.NullInt64
		hash          sql.NullString
	)
	if err := row.Scan(&p.Filename, &lastPosition, &lastProcessed, &lines, &hash); err != nil {
		return domain.FileProgress{}, err
	}
	p.LastPosition = lastPosition.Int64
	p.LinesProcessed = lines.Int64
	p.FileHash = hash.String
	if lastProcessed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastProcessed.String); err == nil {
			p.LastProcessed = t
		}
	}
	return p, nil
}
