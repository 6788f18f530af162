package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/nginx-sqlize/internal/config"
	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/observability"
	"github.com/SteelMorgan/nginx-sqlize/internal/offset"
	"github.com/SteelMorgan/nginx-sqlize/internal/runlog"
	"github.com/SteelMorgan/nginx-sqlize/internal/service"
	"github.com/SteelMorgan/nginx-sqlize/internal/writer"
)

// IngestOptions holds command-line options for the ingest command.
type IngestOptions struct {
	Logs      []string
	BatchSize int
	Force     bool
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(g *GlobalOptions) *cobra.Command {
	opts := &IngestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest --logs <glob> [--logs <glob>...]",
		Short: "Ingest access logs into the SQLite database",
		Long: `Ingest nginx/apache combined-format access logs into SQLite.

Files are read incrementally: each file's byte offset and a fingerprint of
its beginning are stored, so re-running only imports new lines. Rotated or
truncated files are detected and re-read from the start. Files ending in
.gz, .zst or .zstd are decompressed transparently.

Exit codes:
  0 - Run completed (even if some lines failed to parse)
  1 - A pattern matched no files (files that did match are still
      ingested), or the database could not be opened
  130 - Interrupted; re-run to resume from the last committed batch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, g, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Logs, "logs", nil, "Log file path or glob pattern (can be repeated)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", config.DefaultBatchSize,
		fmt.Sprintf("Records per transaction (%d-%d)", config.MinBatchSize, config.MaxBatchSize))
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Re-ingest files from the start even if already processed")
	_ = cmd.MarkFlagRequired("logs")

	return cmd
}

func runIngest(cmd *cobra.Command, g *GlobalOptions, opts *IngestOptions) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig(cmd, g, func(c *config.Config) {
		if flagChanged(cmd, "batch-size") {
			c.BatchSize = opts.BatchSize
		}
	})
	if err != nil {
		return err
	}

	logCloser, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	shutdown, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "nginx-sqlize",
		ServiceVersion: Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Protocol:       cfg.Tracing.Protocol,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	journal, err := runlog.Open(runlog.PathFor(cfg.DBPath), runlog.DefaultLockTimeout)
	if err != nil {
		if errors.Is(err, runlog.ErrLocked) {
			return fmt.Errorf("another ingest is running against %s: %w", cfg.DBPath, err)
		}
		return err
	}
	defer journal.Close()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tracker := offset.NewTracker(st, cfg.FingerprintBytes)
	w := writer.NewSQLiteWriter(st, writer.BatchConfig{MaxSize: cfg.BatchSize})
	svc, err := service.NewIngestService(tracker, w, journal)
	if err != nil {
		return err
	}

	summary, runErr := svc.Run(ctx, opts.Logs, opts.Force)
	if summary == nil {
		return runErr
	}

	total, err := st.CountRecords(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count records")
	}
	printRunSummary(cmd.OutOrStdout(), summary, total, cfg.DBPath, g.Verbose)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			ExitCode = ExitInterrupted
			return nil
		}
		return runErr
	}
	return nil
}

func printRunSummary(w io.Writer, s *domain.RunSummary, totalRecords int64, dbPath string, verbose bool) {
	t := s.Totals()

	if verbose {
		for _, f := range s.Files {
			fmt.Fprintf(w, "%-8s %s (%s, offset %d -> %d, %d lines, %d inserted, %d failed)\n",
				f.State, f.FilePath, f.ResumeReason, f.StartOffset, f.EndOffset, f.LinesRead, f.Inserted, f.ParseFailed)
			if f.Err != "" {
				fmt.Fprintf(w, "         error: %s\n", f.Err)
			}
		}
	} else {
		for _, f := range s.Files {
			if f.State == domain.StateFailed {
				fmt.Fprintf(w, "Error processing %s: %s\n", f.FilePath, f.Err)
			}
		}
	}

	absDB, err := filepath.Abs(dbPath)
	if err != nil {
		absDB = dbPath
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "- Run: %s\n", s.RunID)
	fmt.Fprintf(w, "- Files processed: %d/%d (skipped %d, failed %d)\n",
		s.CountState(domain.StateDone), len(s.Files), s.CountState(domain.StateSkipped), s.CountState(domain.StateFailed))
	fmt.Fprintf(w, "- Lines read: %d\n", t.LinesRead)
	fmt.Fprintf(w, "- Records inserted: %d\n", t.Inserted)
	fmt.Fprintf(w, "- Lines failed to parse: %d\n", t.ParseFailed)
	if t.Rejected > 0 {
		fmt.Fprintf(w, "- Records rejected by database: %d\n", t.Rejected)
	}
	fmt.Fprintf(w, "- Total entries in database: %d\n", totalRecords)
	fmt.Fprintf(w, "- Database location: %s\n", absDB)
	fmt.Fprintf(w, "- Duration: %s\n", t.Duration.Round(1e6))
	if len(s.UnmatchedPatterns) > 0 {
		fmt.Fprintf(w, "- Patterns with no files: %s\n", strings.Join(s.UnmatchedPatterns, ", "))
	}
	if s.Interrupted {
		fmt.Fprintln(w, "- Interrupted: re-run to resume from the last committed batch")
	}
}
