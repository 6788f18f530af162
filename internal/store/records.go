package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/retry"
)

const insertRecordSQL = `INSERT INTO records (
	timestamp, remote_addr, remote_user, request_method,
	request_path, http_version, status, bytes_sent,
	referer, user_agent, processed_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?)`

// BatchResult counts the outcome of one batch insert
type BatchResult struct {
	Inserted int
	Rejected int
}

// InsertBatch inserts records in a single transaction
func (s *Store) InsertBatch(ctx context.Context, records []*domain.LogRecord) (BatchResult, error) {
	return s.CommitBatch(ctx, records, nil)
}

// CommitBatch inserts records and, if progress is non-nil, upserts it in the
// same transaction. Rows the database refuses are skipped and counted as
// rejected; any other failure rolls back the whole unit.
func (s *Store) CommitBatch(ctx context.Context, records []*domain.LogRecord, progress *domain.FileProgress) (BatchResult, error) {
	var result BatchResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = BatchResult{}

		if len(records) > 0 {
			stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
			if err != nil {
				return fmt.Errorf("prepare insert: %w", err)
			}
			defer stmt.Close()

			for _, rec := range records {
				if _, err := stmt.ExecContext(ctx, recordArgs(rec)...); err != nil {
					if ctx.Err() != nil || retry.IsRetryableError(err, s.retry) {
						return err
					}
					log.Warn().
						Err(err).
						Str("remote_addr", rec.RemoteAddr).
						Str("timestamp", rec.Timestamp).
						Msg("Record insert failed, skipping")
					result.Rejected++
					continue
				}
				result.Inserted++
			}
		}

		if progress != nil {
			if err := upsertProgress(ctx, tx, *progress); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to commit batch of %d records: %w", len(records), err)
	}
	return result, nil
}

// CountRecords returns the number of rows in records
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func recordArgs(rec *domain.LogRecord) []any {
	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	return []any{
		rec.Timestamp,
		rec.RemoteAddr,
		nullString(rec.RemoteUser),
		nullString(rec.Method),
		nullString(rec.Path),
		nullString(rec.Protocol),
		rec.Status,
		nullInt64(rec.BytesSent),
		nullString(rec.Referer),
		nullString(rec.UserAgent),
		processedAt.UTC().Format(time.RFC3339),
	}
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt64(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}
