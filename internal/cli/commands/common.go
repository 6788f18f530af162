package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/SteelMorgan/nginx-sqlize/internal/config"
	"github.com/SteelMorgan/nginx-sqlize/internal/observability"
	"github.com/SteelMorgan/nginx-sqlize/internal/store"
)

// ExitCode is set by commands to request a non-default exit status
var ExitCode = 0

// ExitInterrupted is used when a run was stopped by a signal
const ExitInterrupted = 130

// GlobalOptions holds flags shared by all commands
type GlobalOptions struct {
	ConfigPath string
	DBPath     string
	LogFile    string
	Verbose    bool
}

// AddGlobalFlags registers the shared flags on the root command
func AddGlobalFlags(cmd *cobra.Command, g *GlobalOptions) {
	cmd.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&g.DBPath, "db", config.DefaultDBPath, "Path to SQLite database file")
	cmd.PersistentFlags().StringVar(&g.LogFile, "log-file", "", "Append logs to this file as JSON lines")
	cmd.PersistentFlags().BoolVarP(&g.Verbose, "verbose", "v", false, "Enable verbose output")
}

// loadConfig layers flags that were set explicitly over file and environment
func loadConfig(cmd *cobra.Command, g *GlobalOptions, extra ...func(*config.Config)) (*config.Config, error) {
	overrides := []func(*config.Config){
		func(c *config.Config) {
			if flagChanged(cmd, "db") {
				c.DBPath = g.DBPath
			}
			if flagChanged(cmd, "log-file") {
				c.LogFile = g.LogFile
			}
			if g.Verbose {
				c.LogLevel = "debug"
			}
		},
	}
	overrides = append(overrides, extra...)

	cfg, err := config.Load(g.ConfigPath, overrides...)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// setupLogging configures the global logger and returns its closer
func setupLogging(cfg *config.Config) (io.Closer, error) {
	closer, err := observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return closer, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.DBPath, store.WithRetry(cfg.RetryPolicy()))
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// requireDatabase keeps read-only commands from creating an empty database
func requireDatabase(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database file not found: %s", path)
		}
		return err
	}
	return nil
}
