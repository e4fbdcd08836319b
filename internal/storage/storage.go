// Package storage opens the JobResult store selected by DATABASE_DRIVER.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/config"
	"github.com/Harsh-BH/warden/internal/repository"
	"github.com/Harsh-BH/warden/internal/repository/postgres"
	"github.com/Harsh-BH/warden/internal/repository/sqlite"
)

// Stores is the persistence a binary needs. Close releases the connection.
type Stores struct {
	Results   repository.JobResultStore
	Documents repository.DocumentResolver
	Close     func()
}

// Open connects to Postgres or opens the SQLite file. appName tags Postgres
// sessions so gateway and worker connections can be told apart.
func Open(ctx context.Context, cfg config.DatabaseConfig, appName string, logger *zap.Logger) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.URL, appName)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to PostgreSQL")
		return &Stores{
			Results:   postgres.NewResultStore(pool),
			Documents: postgres.NewDocumentResolver(pool),
			Close:     pool.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite database", zap.String("path", cfg.SQLitePath))
		return &Stores{
			Results:   db,
			Documents: db,
			Close: func() {
				if err := db.Close(); err != nil {
					logger.Warn("Failed to close SQLite database", zap.Error(err))
				}
			},
		}, nil

	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
