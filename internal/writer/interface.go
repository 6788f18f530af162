package writer

import (
	"context"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/store"
)

// BatchWriter buffers parsed records of one file and writes them in batches
type BatchWriter interface {
	// Begin binds the writer to a file, dropping anything still buffered
	Begin(progress domain.FileProgress)

	// Add buffers a record and reports whether the batch is full
	Add(record *domain.LogRecord) (full bool)

	// Pending returns the number of buffered records
	Pending() int

	// Flush writes buffered records and the progress snapshot atomically
	// Progress is persisted even when the buffer is empty
	Flush(ctx context.Context, progress domain.FileProgress) (FlushResult, error)

	// Discard drops buffered records without writing them
	Discard() int
}

// Committer persists a batch together with the file progress it covers
// Implementations: store.Store
type Committer interface {
	CommitBatch(ctx context.Context, records []*domain.LogRecord, progress *domain.FileProgress) (store.BatchResult, error)
}

// BatchConfig configures batch behavior
type BatchConfig struct {
	MaxSize int // Maximum records per batch
}

// FlushResult is the outcome of one Flush
type FlushResult struct {
	Inserted int
	Rejected int
}
