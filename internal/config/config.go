package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chatvault/ingest/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Ingestion
	ImportWorkers    int
	TokenBudget      int // max summed token cost per batch
	DesiredBatchSize int // flush once this many items are buffered

	// Backfill
	BackfillBatchSize int
	BackfillClaimers  int

	// Enrichment API
	EmbeddingAPIKey  string
	EmbeddingBaseURL string // empty = provider default
	EmbeddingModel   string
	EmbedRateLimit   int // requests per second
	EmbedTimeout     time.Duration

	// Migration lock
	LockAttempts int
	LockSleep    time.Duration

	// Directory refresh
	DirectoryBaseURL string
	RefreshInterval  time.Duration

	// Ops HTTP server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL: %w", domain.ErrMissingConfig)
	}

	return &Config{
		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 2)),

		ImportWorkers:    getInt("IMPORT_WORKERS", 5),
		TokenBudget:      getInt("TOKEN_BUDGET", 300_000),
		DesiredBatchSize: getInt("DESIRED_BATCH_SIZE", 500),

		BackfillBatchSize: getInt("BACKFILL_BATCH_SIZE", 1000),
		BackfillClaimers:  getInt("BACKFILL_CLAIMERS", 4),

		EmbeddingAPIKey:  os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingBaseURL: os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbedRateLimit:   getInt("EMBED_RATE_LIMIT", 10),
		EmbedTimeout:     getDuration("EMBED_TIMEOUT", 60*time.Second),

		LockAttempts: getInt("MIGRATION_LOCK_ATTEMPTS", 10),
		LockSleep:    getDuration("MIGRATION_LOCK_SLEEP", 10*time.Second),

		DirectoryBaseURL: os.Getenv("DIRECTORY_BASE_URL"),
		RefreshInterval:  getDuration("REFRESH_INTERVAL", 15*time.Minute),

		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
