// Package ingest implements the per-worker processing of export files:
// parse, stamp, batch under the token budget, and flush to the store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/batch"
	"github.com/chatvault/ingest/internal/domain"
	"github.com/chatvault/ingest/internal/pool"
	"github.com/chatvault/ingest/internal/source"
	"github.com/chatvault/ingest/internal/tokenizer"
)

// MessageStore is the write surface the worker flushes to. The production
// implementation is store.Store; tests use an in-memory recorder.
type MessageStore interface {
	InsertMessages(ctx context.Context, msgs []domain.Message) error
}

// Hooks carries the metric callbacks injected by main, keeping this
// package free of prometheus imports. Nil hooks are no-ops.
type Hooks struct {
	OnFlush   func(messages int)
	OnDropped func()
}

func (h *Hooks) fill() {
	if h.OnFlush == nil {
		h.OnFlush = func(int) {}
	}
	if h.OnDropped == nil {
		h.OnDropped = func() {}
	}
}

// Worker ingests one share of the file queue. It owns its batcher, so no
// state is shared between pool workers besides the queue and the store's
// connection pool.
type Worker struct {
	store   MessageStore
	batcher *batch.Batcher[domain.Message]
	counter tokenizer.Counter
	hooks   Hooks
	logger  *zap.Logger
}

// NewFactory returns a pool factory producing one Worker per slot.
func NewFactory(store MessageStore, counter tokenizer.Counter, tokenBudget, desiredSize int, hooks Hooks) pool.Factory[source.FileJob] {
	hooks.fill()
	return func(id int, logger *zap.Logger) pool.Worker[source.FileJob] {
		return &Worker{
			store:   store,
			batcher: batch.New(func(m domain.Message) int { return m.Cost }, tokenBudget, desiredSize),
			counter: counter,
			hooks:   hooks,
			logger:  logger,
		}
	}
}

// Process reads one day file, buffers its messages, and flushes any batches
// the buffer completes. Parse failures abort only this job; the pool moves
// the worker on to its next file.
func (w *Worker) Process(ctx context.Context, job source.FileJob) error {
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", job.Path, err)
	}

	var raws []map[string]any
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("parse %s: %w", job.Path, err)
	}

	for _, raw := range raws {
		raw = domain.ScrubMap(raw)
		raw["channel"] = job.ChannelID

		msg := domain.Message{
			ChannelID: job.ChannelID,
			Raw:       raw,
		}
		if ts, ok := raw["ts"].(string); ok {
			msg.TS = ts
		}
		if text, ok := raw["text"].(string); ok {
			msg.Text = text
			msg.Cost = w.counter.Count(text)
		}
		w.batcher.Add(msg)
	}

	return w.drain(ctx)
}

// Flush commits whatever the worker still buffers. Called once, after the
// worker receives its sentinel.
func (w *Worker) Flush(ctx context.Context) error {
	for {
		batches, err := w.batcher.Final()
		for _, b := range batches {
			if ferr := w.flush(ctx, b); ferr != nil {
				return ferr
			}
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrOversizedItem) {
			w.logger.Warn("dropping oversized message", zap.Error(err))
			w.hooks.OnDropped()
			continue
		}
		return err
	}
}

func (w *Worker) drain(ctx context.Context) error {
	for {
		b, ok, err := w.batcher.Next()
		if err != nil {
			if errors.Is(err, domain.ErrOversizedItem) {
				w.logger.Warn("dropping oversized message", zap.Error(err))
				w.hooks.OnDropped()
				continue
			}
			return err
		}
		if !ok {
			return nil
		}
		if err := w.flush(ctx, b); err != nil {
			return err
		}
	}
}

func (w *Worker) flush(ctx context.Context, b []domain.Message) error {
	if err := w.store.InsertMessages(ctx, b); err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(b), err)
	}
	w.hooks.OnFlush(len(b))
	w.logger.Debug("batch flushed", zap.Int("messages", len(b)))
	return nil
}
