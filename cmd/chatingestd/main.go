package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/config"
	"github.com/chatvault/ingest/internal/db"
	"github.com/chatvault/ingest/internal/migrate"
	"github.com/chatvault/ingest/migrations"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	root := &cobra.Command{
		Use:           "chatingestd",
		Short:         "Ingest and enrich a chat archive in PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(logger),
		newImportCmd(logger),
		newBackfillCmd(logger),
		newServeCmd(logger),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

// setup loads configuration and opens the database pool. Every subcommand
// starts here.
func setup(ctx context.Context, logger *zap.Logger) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, pool, nil
}

// runMigrations gates every worker path: no process proceeds without
// confirmed schema compatibility.
func runMigrations(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) error {
	target, err := semver.NewVersion(migrations.Version)
	if err != nil {
		return fmt.Errorf("parse target version: %w", err)
	}
	runner := &migrate.Runner{
		DB:           pool,
		Target:       target,
		Incremental:  migrations.Incremental(),
		Idempotent:   migrations.Idempotent(),
		LockAttempts: cfg.LockAttempts,
		LockSleep:    cfg.LockSleep,
		Logger:       logger,
	}
	return runner.Run(ctx)
}
