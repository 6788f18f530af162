package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SteelMorgan/nginx-sqlize/internal/accesslog"
	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/logreader"
	"github.com/SteelMorgan/nginx-sqlize/internal/offset"
	"github.com/SteelMorgan/nginx-sqlize/internal/writer"
)

// NoMatchError lists patterns that resolved to no files
type NoMatchError struct {
	Patterns []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no log files found matching: %s", strings.Join(e.Patterns, ", "))
}

// RunRecorder keeps a history of finished runs
// Implementations: runlog.Journal
type RunRecorder interface {
	Record(summary *domain.RunSummary) error
}

// IngestService drives files through parse, batch write and progress commit
type IngestService struct {
	tracker  *offset.Tracker
	writer   writer.BatchWriter
	recorder RunRecorder
	now      func() time.Time
}

// NewIngestService creates a new ingest service. recorder may be nil.
func NewIngestService(tracker *offset.Tracker, w writer.BatchWriter, recorder RunRecorder) (*IngestService, error) {
	if tracker == nil {
		return nil, fmt.Errorf("tracker is required")
	}
	if w == nil {
		return nil, fmt.Errorf("writer is required")
	}
	return &IngestService{
		tracker:  tracker,
		writer:   w,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

// Run ingests every file matched by patterns, one file after another.
// Per-file failures are reported in the summary. The summary is returned
// together with an error when ctx was cancelled or a pattern matched nothing.
func (s *IngestService) Run(ctx context.Context, patterns []string, force bool) (*domain.RunSummary, error) {
	matches, err := logreader.ExpandPatterns(patterns)
	if err != nil {
		return nil, err
	}
	files := logreader.Files(matches)

	summary := &domain.RunSummary{
		RunID:             uuid.NewString(),
		StartTime:         s.now(),
		Force:             force,
		UnmatchedPatterns: logreader.EmptyPatterns(matches),
	}
	for _, p := range summary.UnmatchedPatterns {
		log.Error().Str("pattern", p).Msg("No files match pattern")
	}

	ctx, span := startSpan(ctx, "ingest.run",
		attribute.String("run.id", summary.RunID),
		attribute.Int("run.files", len(files)),
		attribute.Bool("run.force", force),
	)

	log.Info().
		Str("run_id", summary.RunID).
		Int("files", len(files)).
		Bool("force", force).
		Msg("Ingest run starting")

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		summary.Files = append(summary.Files, s.ingestFile(ctx, path, force))
	}

	summary.EndTime = s.now()
	runErr := ctx.Err()
	summary.Interrupted = runErr != nil

	if s.recorder != nil {
		if err := s.recorder.Record(summary); err != nil {
			log.Warn().Err(err).Str("run_id", summary.RunID).Msg("Failed to record run")
		}
	}

	totals := summary.Totals()
	span.SetAttributes(
		attribute.Int64("run.inserted", totals.Inserted),
		attribute.Int64("run.parse_failed", totals.ParseFailed),
	)
	endSpan(span, runErr, "ingest run finished")

	log.Info().
		Str("run_id", summary.RunID).
		Int("done", summary.CountState(domain.StateDone)).
		Int("skipped", summary.CountState(domain.StateSkipped)).
		Int("failed", summary.CountState(domain.StateFailed)).
		Int64("lines", totals.LinesRead).
		Int64("inserted", totals.Inserted).
		Int64("parse_failed", totals.ParseFailed).
		Int64("rejected", totals.Rejected).
		Dur("duration", totals.Duration).
		Bool("interrupted", summary.Interrupted).
		Msg("Ingest run finished")

	var errs []error
	if runErr != nil {
		errs = append(errs, fmt.Errorf("ingest interrupted: %w", runErr))
	}
	if len(summary.UnmatchedPatterns) > 0 {
		errs = append(errs, &NoMatchError{Patterns: summary.UnmatchedPatterns})
	}
	return summary, errors.Join(errs...)
}

// fileRun is the working state of one file while it is processed
type fileRun struct {
	stats    domain.FileStats
	progress domain.FileProgress
	reader   *logreader.Reader

	pendingLines int64
	hash         string // memoized once the fingerprint prefix is complete
	hashFinal    bool
}

func (s *IngestService) ingestFile(ctx context.Context, path string, force bool) domain.FileStats {
	start := s.now()
	fr := &fileRun{stats: domain.FileStats{FilePath: path, State: domain.StateDiscovered}}

	ctx, span := startSpan(ctx, "ingest.file", attribute.String("file.path", path))
	err := s.processFile(ctx, fr, force)

	fr.stats.Duration = s.now().Sub(start)
	if err != nil {
		fr.stats.State = domain.StateFailed
		fr.stats.Err = err.Error()
		if dropped := s.writer.Discard(); dropped > 0 {
			log.Warn().Str("file", path).Int("dropped", dropped).Msg("Unflushed records discarded")
		}
		log.Error().
			Err(err).
			Str("file", path).
			Int64("offset", fr.stats.EndOffset).
			Msg("File ingestion failed")
	} else {
		log.Info().
			Str("file", path).
			Str("state", string(fr.stats.State)).
			Str("reason", fr.stats.ResumeReason).
			Int64("lines", fr.stats.LinesRead).
			Int64("inserted", fr.stats.Inserted).
			Int64("parse_failed", fr.stats.ParseFailed).
			Int64("rejected", fr.stats.Rejected).
			Dur("duration", fr.stats.Duration).
			Msg("File processed")
	}

	span.SetAttributes(
		attribute.String("file.state", string(fr.stats.State)),
		attribute.Int64("file.start_offset", fr.stats.StartOffset),
		attribute.Int64("file.end_offset", fr.stats.EndOffset),
		attribute.Int64("file.inserted", fr.stats.Inserted),
	)
	endSpan(span, err, "file processed")

	return fr.stats
}

func (s *IngestService) processFile(ctx context.Context, fr *fileRun, force bool) error {
	path := fr.stats.FilePath

	stored, err := s.tracker.Load(ctx, path)
	if err != nil {
		return err
	}
	current, err := s.tracker.Inspect(path, stored)
	if err != nil {
		return fmt.Errorf("failed to inspect file: %w", err)
	}

	decision := offset.DecideResumePoint(stored, current, force)
	fr.stats.ResumeReason = string(decision.Reason)
	fr.stats.StartOffset = decision.Offset
	fr.stats.EndOffset = decision.Offset

	if decision.Skip {
		fr.stats.State = domain.StateSkipped
		log.Debug().Str("file", path).Int64("offset", decision.Offset).Msg("Nothing new, skipping")
		return nil
	}

	switch decision.Reason {
	case offset.ReasonRotated, offset.ReasonTruncated:
		log.Warn().
			Str("file", path).
			Str("reason", string(decision.Reason)).
			Int64("stored_offset", stored.LastPosition).
			Int64("size", current.Size).
			Msg("File changed since last run, re-reading from start")
	}

	fr.progress = stored
	if decision.Offset == 0 {
		// Line count restarts with the byte offset
		fr.progress = domain.FileProgress{Filename: path}
	}

	r, err := logreader.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	fr.reader = r
	fr.stats.State = domain.StateOpened

	if err := r.Skip(decision.Offset); err != nil {
		return fmt.Errorf("failed to seek to offset %d: %w", decision.Offset, err)
	}

	s.writer.Begin(fr.progress)
	fr.stats.State = domain.StateStreaming

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted: %w", err)
		}

		line, complete, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep what was read cleanly before the damage
			if ferr := s.flush(ctx, fr); ferr != nil {
				return ferr
			}
			return fmt.Errorf("failed to read at offset %d: %w", r.Offset(), err)
		}
		if !complete {
			log.Debug().
				Str("file", path).
				Int64("offset", r.Offset()).
				Int("bytes", len(line)).
				Msg("Unterminated last line left for the next run")
			break
		}

		fr.stats.LinesRead++
		fr.pendingLines++

		rec, perr := accesslog.ParseLine(line)
		if perr != nil {
			var pe *accesslog.ParseError
			if errors.As(perr, &pe) && pe.Reason == accesslog.ReasonEmpty {
				fr.stats.BlankLines++
				continue
			}
			fr.stats.ParseFailed++
			log.Debug().
				Err(perr).
				Str("file", path).
				Int64("offset", r.Offset()).
				Msg("Line rejected")
			continue
		}

		rec.ProcessedAt = s.now()
		if len(rec.Degraded) > 0 {
			fr.stats.Degraded++
		}
		if s.writer.Add(rec) {
			if err := s.flush(ctx, fr); err != nil {
				return err
			}
			fr.stats.State = domain.StateStreaming
		}
	}

	if err := s.flush(ctx, fr); err != nil {
		return err
	}
	if fr.stats.ParseFailed > 0 {
		log.Warn().
			Str("file", path).
			Int64("parse_failed", fr.stats.ParseFailed).
			Int64("lines", fr.stats.LinesRead).
			Msg("Some lines could not be parsed")
	}
	fr.stats.State = domain.StateDone
	return nil
}

// flush commits buffered records together with the progress they cover
func (s *IngestService) flush(ctx context.Context, fr *fileRun) error {
	fr.stats.State = domain.StateFlushing
	pos := fr.reader.Offset()

	hash, err := s.fingerprint(fr, pos)
	if err != nil {
		return fmt.Errorf("failed to fingerprint: %w", err)
	}

	next := fr.progress.Advance(pos, fr.pendingLines, hash, s.now())
	batchSize := s.writer.Pending()

	ctx, span := startSpan(ctx, "ingest.flush",
		attribute.String("file.path", fr.stats.FilePath),
		attribute.Int("batch.size", batchSize),
		attribute.Int64("batch.offset", pos),
	)
	if batchSize == 0 {
		// Only blank or rejected lines since the last batch
		err = s.tracker.Commit(ctx, next)
		endSpan(span, err, "progress committed")
		if err != nil {
			return fmt.Errorf("failed to commit progress at offset %d: %w", pos, err)
		}
	} else {
		res, err := s.writer.Flush(ctx, next)
		endSpan(span, err, "batch flushed")
		if err != nil {
			return fmt.Errorf("failed to flush batch at offset %d: %w", pos, err)
		}
		fr.stats.Inserted += int64(res.Inserted)
		fr.stats.Rejected += int64(res.Rejected)
		fr.stats.Batches++
	}

	fr.progress = next
	fr.pendingLines = 0
	fr.stats.EndOffset = pos
	fr.stats.State = domain.StateProgressUpdated
	return nil
}

// fingerprint hashes the prefix up to pos, reusing the result once the prefix is complete
func (s *IngestService) fingerprint(fr *fileRun, pos int64) (string, error) {
	if fr.hashFinal {
		return fr.hash, nil
	}
	hash, err := s.tracker.Fingerprint(fr.stats.FilePath, pos)
	if err != nil {
		return "", err
	}
	fr.hash = hash
	fr.hashFinal = pos >= s.tracker.FingerprintBytes()
	return hash, nil
}
