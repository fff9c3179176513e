// Package cmd defines and implements the CLI commands for the cake
// executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cakehq/cake/internal/config"
	"github.com/cakehq/cake/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cake",
		Short: "Exports Jira, Confluence and Drive content for indexing.",
		Long: `cake walks graph-shaped content across Jira issues, Confluence pages
and Google Drive folders, fetching every reachable node exactly once under
bounded concurrency, and aggregates the results into one export fit for
downstream indexing.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cake.yaml)")
	cmd.AddCommand(newExportCmd())

	return cmd
}

// loadConfigAndLogger builds the config and logger shared by subcommands.
func loadConfigAndLogger() (config.Config, *zap.Logger, error) {
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

// ExecuteContext is the main entry point; ctx carries the process-level
// cancellation signal into the running job.
func ExecuteContext(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
