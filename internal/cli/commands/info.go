package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/report"
	"github.com/SteelMorgan/nginx-sqlize/internal/runlog"
	"github.com/SteelMorgan/nginx-sqlize/internal/store"
)

// InfoOptions holds command-line options for the info command.
type InfoOptions struct {
	Runs      int
	TopStatus int
}

// NewInfoCommand creates the info command.
func NewInfoCommand(g *GlobalOptions) *cobra.Command {
	opts := &InfoOptions{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show database contents and ingestion progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, g, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 0, "Also list the N most recent ingest runs")
	cmd.Flags().IntVar(&opts.TopStatus, "top-status", 5, "Number of status codes to show")

	return cmd
}

func runInfo(cmd *cobra.Command, g *GlobalOptions, opts *InfoOptions) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}
	logCloser, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	fi, err := os.Stat(cfg.DBPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database file not found: %s", cfg.DBPath)
		}
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	version, dirty, err := store.SchemaVersion(st.DB())
	if err != nil {
		return err
	}
	stats, err := report.NewEngine(st.DB()).Stats(ctx, opts.TopStatus)
	if err != nil {
		return err
	}
	progress, err := st.ListProgress(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	absDB, err := filepath.Abs(cfg.DBPath)
	if err != nil {
		absDB = cfg.DBPath
	}

	fmt.Fprintln(out, "Database Information:")
	fmt.Fprintf(out, "- Path: %s\n", absDB)
	fmt.Fprintf(out, "- Size: %s\n", humanize.Bytes(uint64(fi.Size())))
	if dirty {
		fmt.Fprintf(out, "- Schema version: %d (dirty)\n", version)
	} else {
		fmt.Fprintf(out, "- Schema version: %d\n", version)
	}
	fmt.Fprintf(out, "- Total records: %s\n", humanize.Comma(stats.Records))
	if stats.Records > 0 {
		fmt.Fprintf(out, "- Date range: %s to %s\n", stats.FirstTimestamp, stats.LastTimestamp)
	}

	fmt.Fprintf(out, "\nTracked files (%d):\n", len(progress))
	printProgress(out, progress)

	if len(stats.TopStatus) > 0 {
		fmt.Fprintln(out, "\nTop status codes:")
		for _, sc := range stats.TopStatus {
			fmt.Fprintf(out, "  %d: %s\n", sc.Status, humanize.Comma(sc.Count))
		}
	}

	if opts.Runs > 0 {
		return printRuns(out, runlog.PathFor(cfg.DBPath), opts.Runs)
	}
	return nil
}

func printProgress(w io.Writer, progress []domain.FileProgress) {
	if len(progress) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  FILE\tPOSITION\tLINES\tLAST PROCESSED")
	for _, p := range progress {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			p.Filename,
			humanize.Bytes(uint64(p.LastPosition)),
			humanize.Comma(p.LinesProcessed),
			humanize.Time(p.LastProcessed))
	}
	tw.Flush()
}

func printRuns(w io.Writer, journalPath string, limit int) error {
	fmt.Fprintln(w, "\nRecent runs:")
	if _, err := os.Stat(journalPath); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "  (none recorded)")
		return nil
	}

	journal, err := runlog.OpenReadOnly(journalPath, runlog.DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer journal.Close()

	runs, err := journal.List(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "  (none recorded)")
		return nil
	}

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  STARTED\tRUN\tFILES\tINSERTED\tFAILED\tDURATION\tNOTE")
	for i := range runs {
		r := &runs[i]
		t := r.Totals()
		note := ""
		switch {
		case r.Interrupted:
			note = "interrupted"
		case r.Force:
			note = "force"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.StartTime.Local().Format(time.DateTime),
			r.RunID,
			len(r.Files),
			humanize.Comma(t.Inserted),
			humanize.Comma(t.ParseFailed),
			t.Duration.Round(time.Millisecond),
			note)
	}
	return tw.Flush()
}
