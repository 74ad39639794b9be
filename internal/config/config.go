// Package config loads process-wide configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StreamMode selects whether /api/chat/stream emits SSE frames or falls
// back to a single synchronous response.
type StreamMode string

const (
	StreamModeStream StreamMode = "stream"
	StreamModeSync   StreamMode = "sync"
)

// Config holds every environment-driven setting the service needs.
type Config struct {
	// LLM
	LLMAPIKey        string
	LLMBaseURL       string
	LLMModelIntent   string
	LLMModelSQLGen   string
	IntentThreshold  float64
	HiddenContextMax int

	// Logging / I/O
	NodeIOLogDir string
	ChatExportDir string

	// Streaming
	ChatStreamMode StreamMode

	// Auth
	AccessTokenSecret string
	AccessTokenAlgo   string
	AccessTokenTTL    time.Duration

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Observability
	SentryDSN   string
	Environment string
	MetricsAddr string

	ListenAddr string
}

// Load reads configuration from the environment, applying the defaults
// the original educational-admin service shipped with.
func Load() (*Config, error) {
	cfg := &Config{
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMBaseURL:     getenv("LLM_BASE_URL", "https://api.anthropic.com"),
		LLMModelIntent: getenv("LLM_MODEL_INTENT", "claude-haiku-4-5"),
		LLMModelSQLGen: getenv("LLM_MODEL_SQL_GEN", "claude-haiku-4-5"),

		NodeIOLogDir:  getenv("NODE_IO_LOG_DIR", "local_logs/node_io"),
		ChatExportDir: getenv("CHAT_EXPORT_DIR", "local_logs/exports"),

		ChatStreamMode: StreamMode(getenv("CHAT_STREAM_MODE", string(StreamModeStream))),

		AccessTokenSecret: os.Getenv("ACCESS_TOKEN_SECRET"),
		AccessTokenAlgo:   getenv("ACCESS_TOKEN_ALGORITHM", "HS256"),

		DBHost:     getenv("DB_HOST", "127.0.0.1"),
		DBUser:     getenv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getenv("DB_NAME", "edu_admin"),

		SentryDSN:   os.Getenv("SENTRY_DSN"),
		Environment: getenv("APP_ENV", "development"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),

		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
	}

	threshold, err := strconv.ParseFloat(getenv("INTENT_CONFIDENCE_THRESHOLD", "0.7"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid INTENT_CONFIDENCE_THRESHOLD: %w", err)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("INTENT_CONFIDENCE_THRESHOLD must be in [0,1], got %v", threshold)
	}
	cfg.IntentThreshold = threshold

	maxRetry, err := strconv.Atoi(getenv("HIDDEN_CONTEXT_MAX_RETRIES", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid HIDDEN_CONTEXT_MAX_RETRIES: %w", err)
	}
	cfg.HiddenContextMax = maxRetry

	ttlMinutes, err := strconv.Atoi(getenv("ACCESS_TOKEN_EXPIRE_MINUTES", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid ACCESS_TOKEN_EXPIRE_MINUTES: %w", err)
	}
	cfg.AccessTokenTTL = time.Duration(ttlMinutes) * time.Minute

	port, err := strconv.Atoi(getenv("DB_PORT", "3306"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	cfg.DBPort = port

	if cfg.AccessTokenAlgo != "HS256" {
		return nil, fmt.Errorf("unsupported ACCESS_TOKEN_ALGORITHM %q: only HS256 is implemented", cfg.AccessTokenAlgo)
	}

	if cfg.ChatStreamMode != StreamModeStream && cfg.ChatStreamMode != StreamModeSync {
		return nil, fmt.Errorf("invalid CHAT_STREAM_MODE: %q", cfg.ChatStreamMode)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MySQLDSN builds the go-sql-driver/mysql DSN for the configured database.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
