package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/enrichment/internal/database"
	infraconfig "github.com/jonesrussell/north-cloud/infrastructure/config"
)

var errMemoryDriver = errors.New("migrations need a SQL database; DATABASE_DRIVER is memory")

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigration(cmd, 0, true)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations, one step by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps := 1
				if len(args) == 1 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n <= 0 {
						return fmt.Errorf("invalid steps %q: must be a positive integer", args[0])
					}
					steps = n
				}
				return runMigration(cmd, steps, false)
			},
		},
	)
	return cmd
}

func runMigration(cmd *cobra.Command, steps int, up bool) error {
	cfg, log, err := loadDeps()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Database.Driver == infraconfig.DriverMemory {
		return errMemoryDriver
	}
	db, err := database.Connect(cmd.Context(), cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer db.Close()

	if up {
		return database.MigrateUp(db.DB, log)
	}
	return database.MigrateDown(db.DB, steps, log)
}
