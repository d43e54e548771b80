// Package queue provides the FIFO job queue shared by a worker pool.
//
// Termination follows the sentinel discipline: after all real jobs are
// enqueued, the producer appends exactly one sentinel per worker, so each
// worker observes its own end-of-work signal and can flush residual state
// before exiting.
package queue

import "context"

type envelope[J any] struct {
	job      J
	sentinel bool
}

// Queue is a bounded FIFO of jobs plus termination sentinels.
type Queue[J any] struct {
	ch chan envelope[J]
}

// New creates a queue with the given capacity. Size it to hold every job
// plus one sentinel per worker if producers must never block.
func New[J any](capacity int) *Queue[J] {
	return &Queue[J]{ch: make(chan envelope[J], capacity)}
}

// Push enqueues one job, blocking while the queue is full.
// Returns ctx.Err() if the context is cancelled while waiting.
func (q *Queue[J]) Push(ctx context.Context, job J) error {
	select {
	case q.ch <- envelope[J]{job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close appends exactly one sentinel per worker. Call it once, after the
// last real job has been pushed.
func (q *Queue[J]) Close(ctx context.Context, workers int) error {
	for i := 0; i < workers; i++ {
		select {
		case q.ch <- envelope[J]{sentinel: true}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pop blocks until a queue entry is available or ctx is cancelled.
// sentinel is true when the entry is a termination signal; ok is false
// when ctx was cancelled while waiting. In both cases the worker should
// stop pulling jobs.
func (q *Queue[J]) Pop(ctx context.Context) (job J, sentinel bool, ok bool) {
	select {
	case env := <-q.ch:
		return env.job, env.sentinel, true
	case <-ctx.Done():
		var zero J
		return zero, false, false
	}
}

// Depth returns the number of entries currently waiting, sentinels included.
func (q *Queue[J]) Depth() int { return len(q.ch) }
