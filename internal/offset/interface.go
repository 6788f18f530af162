package offset

import (
	"context"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
)

// ProgressStore stores and retrieves per-file ingestion progress
// Implementations: store.Store (SQLite file_progress table)
type ProgressStore interface {
	// GetProgress retrieves the progress entry for a file
	// found is false if nothing is stored yet
	GetProgress(ctx context.Context, filename string) (progress domain.FileProgress, found bool, err error)

	// UpsertProgress creates or replaces the progress entry for a file
	UpsertProgress(ctx context.Context, progress domain.FileProgress) error
}

// FileState describes a file as it is on disk right now
type FileState struct {
	Size        int64  // Logical size (decompressed bytes for .gz/.zst)
	Fingerprint string // Hash over the same prefix length that the stored hash covers
}

// Reason explains why a resume point was chosen
type Reason string

const (
	ReasonFresh     Reason = "fresh"
	ReasonForce     Reason = "force"
	ReasonTruncated Reason = "truncated"
	ReasonRotated   Reason = "rotated"
	ReasonResume    Reason = "resume"
)

// Decision is the outcome of DecideResumePoint
type Decision struct {
	Offset int64
	Reason Reason
	Skip   bool // Nothing new to read
}
