// Command server runs the HTTP API: the chat endpoints, session
// management, and CSV downloads backed by the intent -> task_parse ->
// sql_generation -> sql_validate -> hidden_context -> result_return
// graph. Grounded on api/main.go's bootstrap sequencing from the
// teacher pack: env loading, structured logging, optional Sentry,
// database pool, router construction, graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/zhaokao/eduquery/internal/config"
	"github.com/zhaokao/eduquery/internal/db"
	"github.com/zhaokao/eduquery/internal/graph"
	"github.com/zhaokao/eduquery/internal/httpapi"
	"github.com/zhaokao/eduquery/internal/kb"
	"github.com/zhaokao/eduquery/internal/llm"
	"github.com/zhaokao/eduquery/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// godotenv doesn't override already-set env vars, so later files
	// never clobber earlier ones.
	_ = godotenv.Load()
	_ = godotenv.Load("cmd/server/.env")

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: 0.1,
		}); err != nil {
			log.Warn("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.MySQLDSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := db.Up(ctx, log, db.MigrationConfig{DSN: cfg.MySQLDSN()}); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	schema, err := kb.Load(getenvDefault("SCHEMA_KB_PATH", "internal/kb/schema.json"))
	if err != nil {
		return fmt.Errorf("load schema knowledge base: %w", err)
	}

	if err := os.MkdirAll(cfg.NodeIOLogDir, 0o755); err != nil {
		return fmt.Errorf("create node io log dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ChatExportDir, 0o755); err != nil {
		return fmt.Errorf("create chat export dir: %w", err)
	}

	deps := &graph.Deps{
		LLM:          llm.NewAnthropicClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModelSQLGen),
		KB:           schema,
		Executor:     db.NewQuerier(conn),
		Store:        store.NewMySQLStore(conn, log),
		Log:          log,
		IntentModel:  cfg.LLMModelIntent,
		SQLGenModel:  cfg.LLMModelSQLGen,
		SummaryModel: cfg.LLMModelSQLGen,
		ExportDir:    cfg.ChatExportDir,
		NodeIOLogDir: cfg.NodeIOLogDir,
	}

	handler := httpapi.NewRouter(deps, cfg)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
