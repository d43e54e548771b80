package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/ingest"
	"github.com/chatvault/ingest/internal/metrics"
	"github.com/chatvault/ingest/internal/pool"
	"github.com/chatvault/ingest/internal/source"
	"github.com/chatvault/ingest/internal/store"
	"github.com/chatvault/ingest/internal/tokenizer"
)

func newImportCmd(logger *zap.Logger) *cobra.Command {
	var (
		workers      int
		usersFile    string
		channelsFile string
		sinceFlag    string
	)

	cmd := &cobra.Command{
		Use:   "import DIR",
		Short: "Import a chat export directory into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			archiveDir := args[0]

			cfg, dbPool, err := setup(ctx, logger)
			if err != nil {
				return err
			}
			defer dbPool.Close()

			if err := runMigrations(ctx, dbPool, cfg, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if workers < 1 {
				workers = cfg.ImportWorkers
			}

			st := store.New(dbPool)
			if usersFile != "" {
				if err := ingest.LoadUsers(ctx, st, usersFile, logger); err != nil {
					return fmt.Errorf("load users: %w", err)
				}
			}
			if channelsFile != "" {
				if err := ingest.LoadChannels(ctx, st, channelsFile, logger); err != nil {
					return fmt.Errorf("load channels: %w", err)
				}
			}

			var since time.Time
			if sinceFlag != "" {
				since, err = source.ParseSince(sinceFlag)
				if err != nil {
					return fmt.Errorf("parse --since: %w", err)
				}
			}

			nameToID, err := st.ChannelIDsByName(ctx)
			if err != nil {
				return fmt.Errorf("list channels: %w", err)
			}
			jobs, err := source.Scan(archiveDir, nameToID, since, logger)
			if err != nil {
				return fmt.Errorf("scan archive: %w", err)
			}
			if len(jobs) == 0 {
				logger.Info("nothing to import")
				return nil
			}

			counter, err := tokenizer.NewTiktoken(cfg.EmbeddingModel)
			if err != nil {
				return fmt.Errorf("init tokenizer: %w", err)
			}

			m := metrics.New(prometheus.DefaultRegisterer)
			onFlush, onDropped := m.IngestHooks()
			factory := ingest.NewFactory(st, counter, cfg.TokenBudget, cfg.DesiredBatchSize,
				ingest.Hooks{OnFlush: onFlush, OnDropped: onDropped})

			start := time.Now()
			p := pool.New(workers, factory, logger)
			if err := p.Run(ctx, jobs); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			logger.Info("import finished",
				zap.Int("files", len(jobs)),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (default from IMPORT_WORKERS)")
	cmd.Flags().StringVar(&usersFile, "users", "", "path to users.json")
	cmd.Flags().StringVar(&channelsFile, "channels", "", "path to channels.json")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "only import days on or after this date (YYYY-MM-DD, or 7D/4W/3M/1Y)")
	return cmd
}
