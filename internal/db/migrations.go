package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

// MigrationConfig holds the configuration for running migrations,
// grounded on indexer/pkg/clickhouse/migrations.go's MigrationConfig,
// dialect swapped from ClickHouse to MySQL.
type MigrationConfig struct {
	DSN string
}

func newProvider(conn *sql.DB) (*goose.Provider, error) {
	migrationsFS, err := fs.Sub(MigrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("db: migrations sub-filesystem: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectMySQL, conn, migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("db: goose provider: %w", err)
	}
	return provider, nil
}

// Up runs all pending migrations.
func Up(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	conn, err := Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("db: connect for migrations: %w", err)
	}
	defer conn.Close()

	provider, err := newProvider(conn)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("db: run migrations: %w", err)
	}
	for _, r := range results {
		log.Info("migration applied", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
	}
	if len(results) == 0 {
		log.Info("no pending migrations")
	}
	return nil
}

// Status reports the current migration status.
func Status(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	conn, err := Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("db: connect for migrations: %w", err)
	}
	defer conn.Close()

	provider, err := newProvider(conn)
	if err != nil {
		return err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("db: migration status: %w", err)
	}
	for _, s := range statuses {
		state := "pending"
		if s.State == goose.StateApplied {
			state = "applied"
		}
		log.Info("migration", "version", s.Source.Version, "state", state, "path", s.Source.Path)
	}
	return nil
}
