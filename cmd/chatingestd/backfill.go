package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/backfill"
	"github.com/chatvault/ingest/internal/enrich"
	"github.com/chatvault/ingest/internal/metrics"
	"github.com/chatvault/ingest/internal/store"
	"github.com/chatvault/ingest/internal/tokenizer"
)

func newBackfillCmd(logger *zap.Logger) *cobra.Command {
	var (
		statePath string
		batchSize int
		claimers  int
		dummy     bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill searchable content and embeddings for historical messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, dbPool, err := setup(ctx, logger)
			if err != nil {
				return err
			}
			defer dbPool.Close()

			if err := runMigrations(ctx, dbPool, cfg, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			counter, err := tokenizer.NewTiktoken(cfg.EmbeddingModel)
			if err != nil {
				return fmt.Errorf("init tokenizer: %w", err)
			}

			var embedder enrich.Embedder
			switch {
			case dummy:
				embedder = &enrich.Dummy{}
			case cfg.EmbeddingAPIKey != "":
				embedder = enrich.NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL,
					cfg.EmbeddingModel, cfg.EmbedRateLimit, cfg.EmbedTimeout)
			default:
				logger.Warn("EMBEDDING_API_KEY not set, writing placeholder embeddings")
				embedder = &enrich.Dummy{}
			}

			if batchSize < 1 {
				batchSize = cfg.BackfillBatchSize
			}
			if claimers < 1 {
				claimers = cfg.BackfillClaimers
			}

			var state *backfill.JobState
			if statePath != "" {
				state, err = backfill.LoadJobState(statePath, cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("load job state: %w", err)
				}
			}

			m := metrics.New(prometheus.DefaultRegisterer)
			onFastFill, onEnriched := m.BackfillHooks()
			cursor := backfill.NewCursor(store.New(dbPool), embedder, counter, backfill.Options{
				BatchSize:   batchSize,
				Claimers:    claimers,
				TokenBudget: cfg.TokenBudget,
				State:       state,
				Hooks:       backfill.Hooks{OnFastFill: onFastFill, OnEnriched: onEnriched},
			}, logger)

			start := time.Now()
			total, err := cursor.Run(ctx)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			logger.Info("backfill finished",
				zap.Int64("rows", total),
				zap.Duration("elapsed", time.Since(start)))
			return nil
		},
	}

	cmd.Flags().StringVar(&statePath, "state-file", "", "path to a resumable job state file")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows claimed per batch (default from BACKFILL_BATCH_SIZE)")
	cmd.Flags().IntVar(&claimers, "claimers", 0, "concurrent claimers for the slow phase (default from BACKFILL_CLAIMERS)")
	cmd.Flags().BoolVar(&dummy, "dummy-embeddings", false, "write placeholder embeddings instead of calling the embedding API")
	return cmd
}
