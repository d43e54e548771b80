// Package worker runs the periodic directory-refresh jobs that keep the
// user and channel tables in sync with the chat platform. Each refresh is
// guarded by a transaction-scoped advisory try-lock, so with multiple
// service instances only one actually performs the work; the others skip.
package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/store"
)

// Job-scoped advisory lock keys. Arbitrary, but shared by every instance.
const (
	UsersLockKey    = 5245366294413312
	ChannelsLockKey = 6801911210587046
)

// Directory lists users and channels from the chat platform, page by page.
// An empty next cursor means the listing is complete.
type Directory interface {
	ListUsers(ctx context.Context, cursor string) (items []map[string]any, next string, err error)
	ListChannels(ctx context.Context, cursor string) (items []map[string]any, next string, err error)
}

// RefreshWorker ticks at a fixed interval and refreshes both directories.
type RefreshWorker struct {
	store    *store.Store
	dir      Directory
	interval time.Duration
	logger   *zap.Logger
}

func NewRefreshWorker(st *store.Store, dir Directory, interval time.Duration, logger *zap.Logger) *RefreshWorker {
	return &RefreshWorker{store: st, dir: dir, interval: interval, logger: logger}
}

// Run refreshes once at startup, then on every tick until ctx is cancelled.
func (rw *RefreshWorker) Run(ctx context.Context) {
	rw.logger.Info("refresh worker started", zap.Duration("interval", rw.interval))

	rw.refresh(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("refresh worker stopping")
			return
		case <-ticker.C:
			rw.refresh(ctx)
		}
	}
}

func (rw *RefreshWorker) refresh(ctx context.Context) {
	// Refresh failures are logged, not fatal: the next tick retries.
	if err := rw.refreshUsers(ctx); err != nil {
		rw.logger.Error("user refresh failed", zap.Error(err))
	}
	if err := rw.refreshChannels(ctx); err != nil {
		rw.logger.Error("channel refresh failed", zap.Error(err))
	}
}

func (rw *RefreshWorker) refreshUsers(ctx context.Context) error {
	acquired, err := rw.store.WithJobLock(ctx, UsersLockKey, func(ctx context.Context, _ pgx.Tx) error {
		return pageAll(ctx, rw.dir.ListUsers, func(u map[string]any) error {
			return rw.store.UpsertUser(ctx, u)
		})
	})
	if !acquired && err == nil {
		rw.logger.Debug("user refresh already running elsewhere")
	}
	return err
}

func (rw *RefreshWorker) refreshChannels(ctx context.Context) error {
	acquired, err := rw.store.WithJobLock(ctx, ChannelsLockKey, func(ctx context.Context, _ pgx.Tx) error {
		return pageAll(ctx, rw.dir.ListChannels, func(c map[string]any) error {
			return rw.store.UpsertChannel(ctx, c)
		})
	})
	if !acquired && err == nil {
		rw.logger.Debug("channel refresh already running elsewhere")
	}
	return err
}

func pageAll(
	ctx context.Context,
	list func(ctx context.Context, cursor string) ([]map[string]any, string, error),
	apply func(item map[string]any) error,
) error {
	cursor := ""
	for {
		items, next, err := list(ctx, cursor)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := apply(item); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}
