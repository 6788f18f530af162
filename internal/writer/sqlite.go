package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
)

// DefaultBatchSize is used when BatchConfig.MaxSize is not set
const DefaultBatchSize = 1000

// SQLiteWriter buffers records for a single file and commits them with its progress
type SQLiteWriter struct {
	committer Committer
	cfg       BatchConfig

	filename string
	batch    []*domain.LogRecord
}

// NewSQLiteWriter creates a new batch writer
func NewSQLiteWriter(committer Committer, cfg BatchConfig) *SQLiteWriter {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultBatchSize
	}
	return &SQLiteWriter{
		committer: committer,
		cfg:       cfg,
		batch:     make([]*domain.LogRecord, 0, cfg.MaxSize),
	}
}

// Begin binds the writer to a file
func (w *SQLiteWriter) Begin(progress domain.FileProgress) {
	if n := len(w.batch); n > 0 {
		log.Warn().
			Str("file", w.filename).
			Int("dropped", n).
			Msg("Unflushed records dropped on file switch")
	}
	w.filename = progress.Filename
	w.batch = w.batch[:0]
}

// Add buffers a record
func (w *SQLiteWriter) Add(record *domain.LogRecord) bool {
	w.batch = append(w.batch, record)
	return len(w.batch) >= w.cfg.MaxSize
}

// Pending returns the number of buffered records
func (w *SQLiteWriter) Pending() int {
	return len(w.batch)
}

// Flush commits the buffered records together with progress.
// The buffer is cleared whether or not the commit succeeded.
func (w *SQLiteWriter) Flush(ctx context.Context, progress domain.FileProgress) (FlushResult, error) {
	if progress.Filename != w.filename {
		return FlushResult{}, fmt.Errorf("progress for %s flushed into writer bound to %s", progress.Filename, w.filename)
	}

	batchSize := len(w.batch)
	start := time.Now()

	res, err := w.committer.CommitBatch(ctx, w.batch, &progress)
	w.clear()
	if err != nil {
		log.Error().
			Err(err).
			Str("file", w.filename).
			Int("batch_size", batchSize).
			Msg("Batch flush failed")
		return FlushResult{}, err
	}

	log.Debug().
		Str("file", w.filename).
		Int("batch_size", batchSize).
		Int("inserted", res.Inserted).
		Int("rejected", res.Rejected).
		Int64("offset", progress.LastPosition).
		Dur("duration", time.Since(start)).
		Msg("Batch flushed")

	return FlushResult{Inserted: res.Inserted, Rejected: res.Rejected}, nil
}

// Discard drops buffered records
func (w *SQLiteWriter) Discard() int {
	n := len(w.batch)
	w.clear()
	return n
}

// clear empties the buffer without keeping references to flushed records
func (w *SQLiteWriter) clear() {
	for i := range w.batch {
		w.batch[i] = nil
	}
	w.batch = w.batch[:0]
}

var _ BatchWriter = (*SQLiteWriter)(nil)
