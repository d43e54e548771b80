// Package pool implements a bounded worker pool that drains a job queue
// and flushes per-worker residual state on termination.
package pool

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/queue"
)

// Worker processes jobs pulled from the shared queue. Each pool worker gets
// its own instance, so implementations may hold per-worker buffers without
// locking. Flush is called exactly once, after the worker receives its
// sentinel (or the context is cancelled), and must commit whatever the
// worker still holds.
type Worker[J any] interface {
	Process(ctx context.Context, job J) error
	Flush(ctx context.Context) error
}

// Factory builds one Worker per pool slot. The logger already carries the
// worker_id field.
type Factory[J any] func(id int, logger *zap.Logger) Worker[J]

// Pool fans a job list out across a fixed number of workers.
type Pool[J any] struct {
	workers int
	factory Factory[J]
	logger  *zap.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs *multierror.Error
}

func New[J any](workers int, factory Factory[J], logger *zap.Logger) *Pool[J] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[J]{workers: workers, factory: factory, logger: logger}
}

// Run enqueues all jobs followed by one sentinel per worker, starts the
// workers, and blocks until every worker has exited.
//
// A job that fails to process is logged and skipped; it never aborts its
// worker or the pool. Flush failures are collected and returned as one
// aggregated error, since a lost residual batch is real data loss.
func (p *Pool[J]) Run(ctx context.Context, jobs []J) error {
	q := queue.New[J](len(jobs) + p.workers)
	for _, j := range jobs {
		if err := q.Push(ctx, j); err != nil {
			return err
		}
	}
	if err := q.Close(ctx, p.workers); err != nil {
		return err
	}

	p.logger.Info("worker pool starting",
		zap.Int("workers", p.workers), zap.Int("jobs", len(jobs)))

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id, q)
		}(i)
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs.ErrorOrNil()
}

func (p *Pool[J]) run(ctx context.Context, id int, q *queue.Queue[J]) {
	log := p.logger.With(zap.Int("worker_id", id))
	w := p.factory(id, log)

	for {
		job, sentinel, ok := q.Pop(ctx)
		if !ok {
			log.Info("worker stopping early", zap.Error(ctx.Err()))
			break
		}
		if sentinel {
			log.Debug("worker received sentinel")
			break
		}
		if err := w.Process(ctx, job); err != nil {
			// Per-job isolation: log and move on to the next queue item.
			log.Warn("job failed", zap.Error(err))
		}
	}

	if err := w.Flush(ctx); err != nil {
		log.Error("residual flush failed", zap.Error(err))
		p.mu.Lock()
		p.errs = multierror.Append(p.errs, err)
		p.mu.Unlock()
	}
}
