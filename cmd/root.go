// Package cmd defines the CLI commands for the courtharvest executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uzadolat/courtharvest/internal/config"
	"github.com/uzadolat/courtharvest/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "courtharvest",
		Short: "Bulk harvester for published court decisions",
		Long: `courtharvest enumerates the public decision listing APIs, downloads the
PDF document for each decision, extracts its text and persists everything
with page-granularity resume state. Interrupted runs pick up where they
left off; already-harvested pages cost no network traffic.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus HARVEST_* env)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newAggregateCmd())
	return cmd
}

// loadEnvironment builds the config and logger shared by all subcommands.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
