package offset

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/logreader"
)

// DefaultFingerprintBytes is the prefix length hashed to recognise a file
const DefaultFingerprintBytes = 8192

// Tracker decides where ingestion of a file resumes
type Tracker struct {
	store            ProgressStore
	fingerprintBytes int64
}

// NewTracker creates a tracker on top of a progress store
func NewTracker(store ProgressStore, fingerprintBytes int64) *Tracker {
	if fingerprintBytes <= 0 {
		fingerprintBytes = DefaultFingerprintBytes
	}
	return &Tracker{store: store, fingerprintBytes: fingerprintBytes}
}

// FingerprintBytes returns the configured prefix length
func (t *Tracker) FingerprintBytes() int64 {
	return t.fingerprintBytes
}

// Load returns the stored progress for path, or a zero-state entry
func (t *Tracker) Load(ctx context.Context, path string) (domain.FileProgress, error) {
	progress, found, err := t.store.GetProgress(ctx, path)
	if err != nil {
		return domain.FileProgress{}, fmt.Errorf("failed to load progress for %s: %w", path, err)
	}
	if !found {
		return domain.FileProgress{Filename: path}, nil
	}
	return progress, nil
}

// Fingerprint hashes the first min(FingerprintBytes, upTo) bytes of the logical stream
func (t *Tracker) Fingerprint(path string, upTo int64) (string, error) {
	n := t.fingerprintBytes
	if upTo < n {
		n = upTo
	}
	if n < 0 {
		n = 0
	}
	prefix, err := logreader.ReadPrefix(path, n)
	if err != nil {
		return "", err
	}
	return HashPrefix(prefix), nil
}

// Inspect measures the current file against what was stored for it
func (t *Tracker) Inspect(path string, stored domain.FileProgress) (FileState, error) {
	size, err := logreader.LogicalSize(path)
	if err != nil {
		return FileState{}, err
	}
	state := FileState{Size: size}
	if stored.IsNew() || stored.LastPosition > size {
		return state, nil
	}
	state.Fingerprint, err = t.Fingerprint(path, stored.LastPosition)
	if err != nil {
		return FileState{}, err
	}
	return state, nil
}

// Commit persists progress outside of a batch transaction
func (t *Tracker) Commit(ctx context.Context, progress domain.FileProgress) error {
	if err := t.store.UpsertProgress(ctx, progress); err != nil {
		return fmt.Errorf("failed to commit progress for %s: %w", progress.Filename, err)
	}
	log.Debug().
		Str("file", progress.Filename).
		Int64("offset", progress.LastPosition).
		Int64("lines", progress.LinesProcessed).
		Msg("Progress committed")
	return nil
}

// DecideResumePoint picks the byte offset to resume from. It has no side effects.
func DecideResumePoint(stored domain.FileProgress, current FileState, force bool) Decision {
	var d Decision
	switch {
	case force:
		d = Decision{Offset: 0, Reason: ReasonForce}
	case stored.IsNew():
		d = Decision{Offset: 0, Reason: ReasonFresh}
	case stored.LastPosition > current.Size:
		d = Decision{Offset: 0, Reason: ReasonTruncated}
	case stored.FileHash != current.Fingerprint:
		d = Decision{Offset: 0, Reason: ReasonRotated}
	default:
		d = Decision{Offset: stored.LastPosition, Reason: ReasonResume}
	}
	d.Skip = !force && d.Offset == current.Size
	return d
}

// HashPrefix returns the hex xxh3-128 digest of data
func HashPrefix(data []byte) string {
	b := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(b[:])
}
