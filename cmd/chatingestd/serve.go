package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/api"
	"github.com/chatvault/ingest/internal/metrics"
	"github.com/chatvault/ingest/internal/store"
	"github.com/chatvault/ingest/internal/worker"
)

func newServeCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh workers and ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, dbPool, err := setup(ctx, logger)
			if err != nil {
				return err
			}
			defer dbPool.Close()

			if err := runMigrations(ctx, dbPool, cfg, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics.New(reg)

			var wg sync.WaitGroup
			if cfg.DirectoryBaseURL != "" {
				dir := worker.NewHTTPDirectory(cfg.DirectoryBaseURL, cfg.ReadTimeout)
				rw := worker.NewRefreshWorker(store.New(dbPool), dir, cfg.RefreshInterval, logger)
				wg.Add(1)
				go func() {
					defer wg.Done()
					rw.Run(ctx)
				}()
			} else {
				logger.Warn("DIRECTORY_BASE_URL not set, directory refresh disabled")
			}

			srv := &http.Server{
				Addr:         ":" + cfg.HTTPPort,
				Handler:      api.NewRouter(dbPool, reg, logger),
				ReadTimeout:  cfg.ReadTimeout,
				WriteTimeout: cfg.WriteTimeout,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("ops server listening", zap.String("addr", srv.Addr))
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				stop()
				wg.Wait()
				return fmt.Errorf("ops server: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", zap.Error(err))
			}
			wg.Wait()
			if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
