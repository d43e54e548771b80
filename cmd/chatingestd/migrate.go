package main

import (
	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/migrate"
	"github.com/chatvault/ingest/migrations"
)

func newMigrateCmd(logger *zap.Logger) *cobra.Command {
	var forceIdempotent bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, pool, err := setup(ctx, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			target, err := semver.NewVersion(migrations.Version)
			if err != nil {
				return err
			}
			runner := &migrate.Runner{
				DB:              pool,
				Target:          target,
				Incremental:     migrations.Incremental(),
				Idempotent:      migrations.Idempotent(),
				LockAttempts:    cfg.LockAttempts,
				LockSleep:       cfg.LockSleep,
				ForceIdempotent: forceIdempotent,
				Logger:          logger,
			}
			return runner.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&forceIdempotent, "force-idempotent", false,
		"reapply the idempotent script tree even when the schema version already matches")
	return cmd
}
