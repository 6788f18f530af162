package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Stats is the database summary shown by `info`
type Stats struct {
	Records        int64
	TrackedFiles   int64
	FirstTimestamp string // Of the first ingested record
	LastTimestamp  string // Of the last ingested record
	TopStatus      []StatusCount
}

// StatusCount is the number of records with one status code
type StatusCount struct {
	Status int
	Count  int64
}

// Stats collects record counts, ingest bounds and the most frequent status codes
func (e *Engine) Stats(ctx context.Context, topStatus int) (*Stats, error) {
	var s Stats

	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&s.Records); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_progress").Scan(&s.TrackedFiles); err != nil {
		return nil, fmt.Errorf("count tracked files: %w", err)
	}

	var first, last sql.NullString
	err := e.db.QueryRowContext(ctx, `SELECT
		(SELECT timestamp FROM records ORDER BY id LIMIT 1),
		(SELECT timestamp FROM records ORDER BY id DESC LIMIT 1)`).Scan(&first, &last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read timestamp bounds: %w", err)
	}
	s.FirstTimestamp, s.LastTimestamp = first.String, last.String

	if topStatus <= 0 {
		topStatus = 5
	}
	rows, err := e.db.QueryContext(ctx,
		"SELECT status, COUNT(*) AS n FROM records GROUP BY status ORDER BY n DESC, status LIMIT ?", topStatus)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		s.TopStatus = append(s.TopStatus, sc)
	}
	return &s, rows.Err()
}
