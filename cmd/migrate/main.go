// Command migrate runs or inspects the service's MySQL schema
// migrations, grounded on admin/cmd/admin/main.go's pflag-based CLI and
// env-override pattern from the teacher pack, narrowed from ClickHouse
// and Neo4j dialects to the single MySQL connection this service needs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/zhaokao/eduquery/internal/config"
	"github.com/zhaokao/eduquery/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	upFlag := flag.Bool("up", false, "run all pending migrations")
	statusFlag := flag.Bool("status", false, "show migration status")
	dsnFlag := flag.String("dsn", "", "MySQL DSN override (or set DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME env vars)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.MySQLDSN()
	if *dsnFlag != "" {
		dsn = *dsnFlag
	}

	switch {
	case *upFlag:
		return db.Up(context.Background(), log, db.MigrationConfig{DSN: dsn})
	case *statusFlag:
		return db.Status(context.Background(), log, db.MigrationConfig{DSN: dsn})
	default:
		return fmt.Errorf("one of --up or --status is required")
	}
}
