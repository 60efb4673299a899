package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/enrichment/internal/config"
	"github.com/jonesrussell/north-cloud/enrichment/internal/database"
	"github.com/jonesrussell/north-cloud/enrichment/internal/memstore"
	"github.com/jonesrussell/north-cloud/enrichment/internal/service"
	infraconfig "github.com/jonesrussell/north-cloud/infrastructure/config"
	infralogger "github.com/jonesrussell/north-cloud/infrastructure/logger"
)

// SetupStore opens the configured Run Store. db is nil for the memory driver.
func SetupStore(ctx context.Context, cfg *config.Config, log infralogger.Logger) (service.Store, *sqlx.DB, error) {
	if cfg.Database.Driver == infraconfig.DriverMemory {
		log.Warn("Using in-memory run store; runs are lost on restart")
		return memstore.New(), nil, nil
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection: %w", err)
	}
	if migrateErr := database.MigrateUp(db.DB, log); migrateErr != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", migrateErr)
	}
	log.Info("Database connection established",
		infralogger.String("driver", cfg.Database.Driver),
		infralogger.String("host", cfg.Database.Host),
		infralogger.String("database", cfg.Database.Database),
	)
	return database.NewRunStore(db), db, nil
}
