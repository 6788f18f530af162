// Package cli provides the command-line interface for nginx-sqlize.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SteelMorgan/nginx-sqlize/internal/cli/commands"
)

// Execute runs the root command and returns the exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, NewRootCommand(), os.Args[1:])
}

func execute(ctx context.Context, rootCmd *cobra.Command, args []string) int {
	commands.ExitCode = 0
	rootCmd.SetArgs(args)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// SilenceErrors keeps cobra from printing it
		_, _ = fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return commands.ExitCode
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	g := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "nginx-sqlize",
		Short: "Load nginx access logs into SQLite",
		Long: `nginx-sqlize ingests nginx/apache combined-format access logs into a single
SQLite database and runs predefined analytical queries against it.

Ingestion is incremental: re-running only imports lines appended since the
last run, and rotated or truncated files are detected and re-read.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	commands.AddGlobalFlags(rootCmd, g)

	rootCmd.AddCommand(commands.NewIngestCommand(g))
	rootCmd.AddCommand(commands.NewInfoCommand(g))
	rootCmd.AddCommand(commands.NewQueryCommand(g))
	rootCmd.AddCommand(commands.NewExportCommand(g))
	rootCmd.AddCommand(commands.NewVersionCommand())

	return rootCmd
}
