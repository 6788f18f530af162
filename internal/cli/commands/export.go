package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SteelMorgan/nginx-sqlize/internal/report"
)

// ExportOptions holds command-line options for the export command.
type ExportOptions struct {
	Type   string
	Format string
	Limit  int
	Out    string
}

// NewExportCommand creates the export command.
func NewExportCommand(g *GlobalOptions) *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records to CSV or Parquet",
		Long: `Export records to CSV or Parquet.

Types:
  all      most recent records
  errors   most recent records with status >= 400
  summary  per-day request, unique IP and error counts

CSV is written to stdout unless --out is given. Parquet requires --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", string(report.ExportAll), "Export type (all, errors, summary)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", string(report.FormatCSV), "Output format (csv, parquet)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", report.DefaultExportLimit, "Maximum records to export")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "Output file")

	return cmd
}

func runExport(cmd *cobra.Command, g *GlobalOptions, opts *ExportOptions) error {
	ctx := commandContext(cmd)

	format := report.ExportFormat(opts.Format)
	if format == report.FormatParquet && opts.Out == "" {
		return fmt.Errorf("parquet export requires --out")
	}

	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}
	logCloser, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := requireDatabase(cfg.DBPath); err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var w io.Writer = cmd.OutOrStdout()
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	n, err := report.NewEngine(st.DB()).Export(ctx, w, report.ExportType(opts.Type), format, opts.Limit)
	if err != nil {
		if opts.Out != "" {
			_ = os.Remove(opts.Out)
		}
		return err
	}

	log.Info().Str("type", opts.Type).Str("format", opts.Format).Int("rows", n).Msg("Export finished")
	if opts.Out != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d rows to %s\n", n, opts.Out)
	}
	return nil
}
