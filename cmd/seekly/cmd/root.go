// Package cmd provides the CLI commands for Seekly.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/h12/seekly/internal/config"
	serrors "github.com/h12/seekly/internal/errors"
	"github.com/h12/seekly/internal/logging"
	"github.com/h12/seekly/pkg/version"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	debug     bool
	configDir string

	logger  *slog.Logger
	cleanup func()
}

// loadConfig loads the effective configuration for --config-dir.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configDir)
}

// log returns the command logger, falling back to slog's default.
func (o *rootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

// NewRootCmd creates the root command for the seekly CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "seekly",
		Short: "Hybrid full-text search for typed entities",
		Long: `Seekly indexes typed entities into a bleve inverted index and keeps the
full records in SQLite. Searches run against the index and are hydrated
from the relational store.

Configuration is read from ~/.config/seekly/config.yaml, then .seekly.yaml
in --config-dir, then SEEKLY_* environment variables.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("seekly version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "Directory holding .seekly.yaml")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		level := ""
		if opts.debug {
			level = "debug"
		}
		logger, cleanup, err := logging.Setup(logging.CLIConfig(level))
		if err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}
		opts.logger = logger
		opts.cleanup = cleanup
		return nil
	}
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if opts.cleanup != nil {
			opts.cleanup()
			opts.cleanup = nil
		}
	}

	cmd.AddCommand(
		newIndexCmd(opts),
		newReindexCmd(opts),
		newSearchCmd(opts),
		newSuggestCmd(opts),
		newGetCmd(opts),
		newRemoveCmd(opts),
		newStatsCmd(opts),
		newOptimizeCmd(opts),
		newClearCmd(opts),
		newHealthCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
		newLogsCmd(),
		newVersionCmd(),
	)

	return cmd
}

// Execute runs the root command and prints failures for the terminal.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, serrors.FormatForCLI(err))
	}
	return err
}
