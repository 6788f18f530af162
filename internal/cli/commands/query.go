package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SteelMorgan/nginx-sqlize/internal/report"
)

// QueryOptions holds command-line options for the query command.
type QueryOptions struct {
	Limit  int
	Period string
	Format string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(g *GlobalOptions) *cobra.Command {
	opts := &QueryOptions{}

	var names strings.Builder
	for _, name := range report.QueryNames() {
		fmt.Fprintf(&names, "  %-12s %s\n", name, report.Describe(name))
	}

	cmd := &cobra.Command{
		Use:   "query <name>",
		Short: "Run a predefined analytical query",
		Long: "Run one of the predefined read-only queries against the database.\n\nQueries:\n" +
			names.String(),
		Args:      cobra.ExactArgs(1),
		ValidArgs: report.QueryNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, g, opts, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", report.DefaultLimit, "Maximum rows to return")
	cmd.Flags().StringVar(&opts.Period, "period", "hour", "Bucket for the traffic query (hour, day)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "text", "Output format (text, json)")

	return cmd
}

func runQuery(cmd *cobra.Command, g *GlobalOptions, opts *QueryOptions, name string) error {
	ctx := commandContext(cmd)

	write, err := tableWriter(opts.Format)
	if err != nil {
		return err
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

	table, err := report.NewEngine(st.DB()).Run(ctx, name, report.Options{
		Limit:  opts.Limit,
		Period: opts.Period,
	})
	if err != nil {
		return err
	}
	return write(cmd.OutOrStdout(), table)
}

func tableWriter(format string) (func(w io.Writer, t *report.Table) error, error) {
	switch format {
	case "text":
		return report.WriteText, nil
	case "json":
		return report.WriteJSON, nil
	default:
		return nil, fmt.Errorf("unknown format %q (use text or json)", format)
	}
}
