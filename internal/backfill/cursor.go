// Package backfill drains the backlog of messages missing searchable
// content. Work is split into a fast phase (pure SQL, no enrichment) and a
// slow phase (rows with attachments, which need re-embedding), and any
// number of cursor processes can run concurrently: claims are partitioned
// by row locks with SKIP LOCKED, so workers never overlap and never block
// each other. Progress is defined entirely by the unprocessed predicate in
// the database, which makes every run resumable after a crash.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatvault/ingest/internal/batch"
	"github.com/chatvault/ingest/internal/domain"
	"github.com/chatvault/ingest/internal/enrich"
	"github.com/chatvault/ingest/internal/store"
	"github.com/chatvault/ingest/internal/tokenizer"
)

// Hooks carries metric callbacks. Nil hooks are no-ops.
type Hooks struct {
	OnFastFill func(rows int64)
	OnEnriched func(rows int)
}

func (h *Hooks) fill() {
	if h.OnFastFill == nil {
		h.OnFastFill = func(int64) {}
	}
	if h.OnEnriched == nil {
		h.OnEnriched = func(int) {}
	}
}

// Cursor runs the two-phase backfill.
type Cursor struct {
	store       store.BackfillStore
	embedder    enrich.Embedder
	counter     tokenizer.Counter
	batchSize   int
	claimers    int
	tokenBudget int
	state       *JobState // optional resumable progress record
	hooks       Hooks
	logger      *zap.Logger
}

type Options struct {
	BatchSize   int
	Claimers    int
	TokenBudget int
	State       *JobState
	Hooks       Hooks
}

func NewCursor(st store.BackfillStore, embedder enrich.Embedder, counter tokenizer.Counter, opts Options, logger *zap.Logger) *Cursor {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1000
	}
	if opts.Claimers < 1 {
		opts.Claimers = 1
	}
	if opts.TokenBudget < 1 {
		opts.TokenBudget = 300_000
	}
	opts.Hooks.fill()
	return &Cursor{
		store:       st,
		embedder:    embedder,
		counter:     counter,
		batchSize:   opts.BatchSize,
		claimers:    opts.Claimers,
		tokenBudget: opts.TokenBudget,
		state:       opts.State,
		hooks:       opts.Hooks,
		logger:      logger,
	}
}

// Run drains both phases and returns the total number of rows backfilled.
// The run is complete when every claimer's final claim comes back empty.
func (c *Cursor) Run(ctx context.Context) (int64, error) {
	total, fastOnly, err := c.store.PendingCounts(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Info("backfill starting",
		zap.Int64("pending_total", total),
		zap.Int64("pending_fast", fastOnly),
		zap.Int64("pending_enrich", total-fastOnly),
		zap.Int("batch_size", c.batchSize),
		zap.Int("claimers", c.claimers))

	if err := c.markRunning(); err != nil {
		return 0, err
	}

	var done int64

	// Phase 1: rows without attachments, updated entirely in SQL.
	for {
		n, err := c.store.FastFill(ctx, c.batchSize)
		if err != nil {
			return done, fmt.Errorf("fast-path batch: %w", err)
		}
		if n == 0 {
			break
		}
		done += n
		c.hooks.OnFastFill(n)
		c.logger.Info("fast-path batch committed", zap.Int64("rows", n))
		if err := c.advanceState(done); err != nil {
			return done, err
		}
	}

	// Phase 2: rows with attachments, claimed and enriched concurrently.
	var enriched atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.claimers; i++ {
		log := c.logger.With(zap.Int("claimer", i))
		g.Go(func() error {
			for {
				n, err := c.store.ClaimEnrich(gctx, c.batchSize, c.enrichBatch)
				if err != nil {
					return fmt.Errorf("enrichment claim: %w", err)
				}
				if n == 0 {
					log.Info("backlog drained")
					return nil
				}
				enriched.Add(int64(n))
				c.hooks.OnEnriched(n)
				log.Info("enrichment batch committed", zap.Int("rows", n))
				if err := c.advanceState(done + enriched.Load()); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return done + enriched.Load(), err
	}
	done += enriched.Load()

	if err := c.markDone(done); err != nil {
		return done, err
	}
	c.logger.Info("backfill complete", zap.Int64("rows", done))
	return done, nil
}

// enrichBatch runs inside the claim transaction: it derives searchable
// content for every claimed row and re-embeds it in token-budgeted calls.
// A whole-call embedding failure aborts (rolling back the claim); a single
// row whose content exceeds the budget by itself keeps its content update
// but is skipped for embedding.
func (c *Cursor) enrichBatch(ctx context.Context, rows []store.PendingRow) ([]store.RowUpdate, error) {
	updates := make([]store.RowUpdate, len(rows))
	for i, r := range rows {
		updates[i] = store.RowUpdate{
			TS:                r.TS,
			ChannelID:         r.ChannelID,
			SearchableContent: BuildSearchableContent(r.Text, r.Attachments),
		}
	}

	b := batch.New(func(i int) int {
		return c.counter.Count(updates[i].SearchableContent)
	}, c.tokenBudget, 0)
	for i := range updates {
		b.Add(i)
	}

	for {
		group, err := b.Final()
		for _, idxs := range group {
			texts := make([]string, len(idxs))
			for j, i := range idxs {
				texts[j] = updates[i].SearchableContent
			}
			vecs, err := c.embedder.Embed(ctx, texts)
			if err != nil {
				return nil, err
			}
			for j, i := range idxs {
				updates[i].Embedding = vecs[j]
			}
		}
		if err == nil {
			return updates, nil
		}
		if errors.Is(err, domain.ErrOversizedItem) {
			c.logger.Warn("row too large to embed, keeping content only", zap.Error(err))
			continue
		}
		return nil, err
	}
}

func (c *Cursor) markRunning() error {
	if c.state == nil {
		return nil
	}
	return c.state.Update(func(s *JobState) {
		s.Status = StatusRunning
		s.BatchSize = c.batchSize
	})
}

func (c *Cursor) advanceState(offset int64) error {
	if c.state == nil {
		return nil
	}
	return c.state.Update(func(s *JobState) {
		s.CurrentOffset = offset
	})
}

func (c *Cursor) markDone(offset int64) error {
	if c.state == nil {
		return nil
	}
	return c.state.Update(func(s *JobState) {
		s.Status = StatusDone
		s.CurrentOffset = offset
	})
}
