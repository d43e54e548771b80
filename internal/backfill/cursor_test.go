package backfill

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/domain"
	"github.com/chatvault/ingest/internal/enrich"
	"github.com/chatvault/ingest/internal/store"
	"github.com/chatvault/ingest/internal/tokenizer"
)

// memStore mirrors the database's claim semantics in memory: a row handed to
// one claimer is invisible to the others until its transaction settles, and
// a failed transaction returns its rows to the pending state.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*memRow
	failing int // claims to fail before succeeding
}

type memRow struct {
	row      store.PendingRow
	content  string
	vector   []float32
	filled   bool
	claimed  bool
	enriched int // committed enrichment writebacks for this row
}

func key(ts time.Time, channel string) string {
	return channel + "/" + ts.Format(time.RFC3339Nano)
}

func newMemStore(fast, slow int) *memStore {
	s := &memStore{rows: map[string]*memRow{}}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < fast+slow; i++ {
		r := store.PendingRow{
			TS:        base.Add(time.Duration(i) * time.Second),
			ChannelID: fmt.Sprintf("C%03d", i%7),
			Text:      fmt.Sprintf("message %d", i),
		}
		if i >= fast {
			r.Attachments = []domain.Attachment{{Title: fmt.Sprintf("report %d", i)}}
		}
		s.rows[key(r.TS, r.ChannelID)] = &memRow{row: r}
	}
	return s
}

func (s *memStore) PendingCounts(context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, fast int64
	for _, r := range s.rows {
		if r.filled {
			continue
		}
		total++
		if len(r.row.Attachments) == 0 {
			fast++
		}
	}
	return total, fast, nil
}

func (s *memStore) FastFill(_ context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.filled || r.claimed || len(r.row.Attachments) > 0 {
			continue
		}
		r.content = r.row.Text
		r.filled = true
		n++
		if int(n) >= limit {
			break
		}
	}
	return n, nil
}

func (s *memStore) ClaimEnrich(ctx context.Context, limit int,
	enrich func(ctx context.Context, rows []store.PendingRow) ([]store.RowUpdate, error)) (int, error) {

	s.mu.Lock()
	var claimed []*memRow
	var pending []store.PendingRow
	for _, r := range s.rows {
		if r.filled || r.claimed || len(r.row.Attachments) == 0 {
			continue
		}
		r.claimed = true
		claimed = append(claimed, r)
		pending = append(pending, r.row)
		if len(claimed) >= limit {
			break
		}
	}
	s.mu.Unlock()

	if len(claimed) == 0 {
		return 0, nil
	}

	release := func() {
		s.mu.Lock()
		for _, r := range claimed {
			r.claimed = false
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	shouldFail := s.failing > 0
	if shouldFail {
		s.failing--
	}
	s.mu.Unlock()
	if shouldFail {
		release()
		return 0, errors.New("injected claim failure")
	}

	updates, err := enrich(ctx, pending)
	if err != nil {
		release()
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		r, ok := s.rows[key(u.TS, u.ChannelID)]
		if !ok {
			release()
			return 0, fmt.Errorf("update for unknown row %s", u.ChannelID)
		}
		r.content = u.SearchableContent
		r.vector = u.Embedding
		r.filled = true
		r.claimed = false
		r.enriched++
	}
	return len(claimed), nil
}

var _ store.BackfillStore = (*memStore)(nil)

func runeCounter() tokenizer.Counter {
	return tokenizer.Func(func(s string) int { return len(s) })
}

func TestTwoPhaseDrainsEverything(t *testing.T) {
	const fast, slow = 5000, 5000
	st := newMemStore(fast, slow)

	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{
		BatchSize: 1000,
		Claimers:  4,
	}, zap.NewNop())

	total, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(fast+slow), total)

	for _, r := range st.rows {
		require.True(t, r.filled, "row %s left pending", r.row.ChannelID)
		assert.False(t, r.claimed)
		if len(r.row.Attachments) == 0 {
			assert.Equal(t, r.row.Text, r.content)
			assert.Nil(t, r.vector)
		} else {
			assert.Contains(t, r.content, r.row.Text)
			assert.Contains(t, r.content, r.row.Attachments[0].Title)
			assert.Len(t, r.vector, 3)
		}
	}

	remaining, _, err := st.PendingCounts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestClaimExclusionAcrossClaimers(t *testing.T) {
	// All rows go through the claim loop: 10000 rows, batches of 1000,
	// four concurrent claimers.
	const rows = 10_000
	st := newMemStore(0, rows)

	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{
		BatchSize: 1000,
		Claimers:  4,
	}, zap.NewNop())

	total, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(rows), total)

	for _, r := range st.rows {
		require.True(t, r.filled)
		assert.Equal(t, 1, r.enriched, "row %s/%s processed more than once",
			r.row.ChannelID, r.row.TS)
	}
}

func TestStateFileSharedAcrossClaimers(t *testing.T) {
	const rows = 2000
	st := newMemStore(0, rows)

	state, err := LoadJobState(filepath.Join(t.TempDir(), "state.json"), "mem")
	require.NoError(t, err)

	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{
		BatchSize: 100,
		Claimers:  4,
		State:     state,
	}, zap.NewNop())

	total, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(rows), total)
	assert.Equal(t, StatusDone, state.Status)
	assert.Equal(t, int64(rows), state.CurrentOffset)
}

func TestRunIsIdempotentOnceDrained(t *testing.T) {
	st := newMemStore(10, 10)
	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{BatchSize: 4}, zap.NewNop())

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), first)

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second)
}

func TestFailedClaimReturnsRows(t *testing.T) {
	st := newMemStore(0, 50)
	st.failing = 1

	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{
		BatchSize: 10,
		Claimers:  1,
	}, zap.NewNop())

	_, err := c.Run(context.Background())
	require.Error(t, err)

	// The failed claim rolled back: nothing stuck in the claimed state.
	for _, r := range st.rows {
		assert.False(t, r.claimed)
	}

	// A rerun picks the rows back up.
	total, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding backend down")
}

func TestEmbeddingFailureRollsBackClaim(t *testing.T) {
	st := newMemStore(0, 20)
	c := NewCursor(st, failingEmbedder{}, runeCounter(), Options{BatchSize: 5}, zap.NewNop())

	_, err := c.Run(context.Background())
	require.Error(t, err)
	for _, r := range st.rows {
		assert.False(t, r.filled)
		assert.False(t, r.claimed)
	}
}

func TestOversizedRowKeepsContentWithoutEmbedding(t *testing.T) {
	st := newMemStore(0, 0)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	small := store.PendingRow{TS: base, ChannelID: "C001", Text: "hi",
		Attachments: []domain.Attachment{{Title: "a"}}}
	huge := store.PendingRow{TS: base.Add(time.Second), ChannelID: "C001",
		Text: strings.Repeat("x", 500),
		Attachments: []domain.Attachment{{Title: "b"}}}
	st.rows[key(small.TS, small.ChannelID)] = &memRow{row: small}
	st.rows[key(huge.TS, huge.ChannelID)] = &memRow{row: huge}

	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{
		BatchSize:   10,
		TokenBudget: 100,
	}, zap.NewNop())

	total, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	for _, r := range st.rows {
		require.True(t, r.filled)
		assert.NotEmpty(t, r.content)
		if r.row.ChannelID == small.ChannelID && r.row.TS.Equal(small.TS) {
			assert.Len(t, r.vector, 3)
		} else {
			assert.Nil(t, r.vector, "oversized row must not be embedded")
		}
	}
}

func TestHooksObserveProgress(t *testing.T) {
	st := newMemStore(30, 12)

	var mu sync.Mutex
	var fast int64
	var slow int
	c := NewCursor(st, &enrich.Dummy{Dim: 3}, runeCounter(), Options{
		BatchSize: 8,
		Hooks: Hooks{
			OnFastFill: func(n int64) { mu.Lock(); fast += n; mu.Unlock() },
			OnEnriched: func(n int) { mu.Lock(); slow += n; mu.Unlock() },
		},
	}, zap.NewNop())

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(30), fast)
	assert.Equal(t, 12, slow)
}
