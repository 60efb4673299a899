// Package cmd implements the command-line interface for the enrichment service.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/enrichment/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/enrichment/internal/config"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// cfgFile holds the path to the configuration file.
var cfgFile string

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "enrichment",
		Short:         "Batch attribute enrichment runs",
		Long:          `Creates, executes and exports enrichment runs that look up product attributes in waves.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.yml)")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newListCommand(),
		newResumeCommand(),
		newExportCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "enrichment version %s\n", version)
			},
		},
	)
	return root.ExecuteContext(ctx)
}

// loadDeps loads config and a logger for commands that do not serve HTTP.
func loadDeps() (*config.Config, infralogger.Logger, error) {
	cfg, err := bootstrap.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := bootstrap.CreateLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// withRuntime wires the store and runner for the duration of fn.
func withRuntime(ctx context.Context, fn func(rt *bootstrap.Runtime) error) error {
	cfg, log, err := loadDeps()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rt, err := bootstrap.NewRuntime(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("setup runtime: %w", err)
	}
	defer rt.Close()
	return fn(rt)
}
