package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatvault/ingest/internal/domain"
	"github.com/chatvault/ingest/internal/pool"
	"github.com/chatvault/ingest/internal/source"
	"github.com/chatvault/ingest/internal/tokenizer"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]domain.Message
}

func (s *memStore) InsertMessages(_ context.Context, msgs []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]domain.Message, len(msgs))
	copy(cp, msgs)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *memStore) all() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func lenCounter() tokenizer.Counter {
	return tokenizer.Func(func(s string) int { return len(s) })
}

func writeDayFile(t *testing.T, msgs []map[string]any) string {
	t.Helper()
	data, err := json.Marshal(msgs)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "2024-03-01.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newWorker(st MessageStore, budget, desired int, hooks Hooks) *Worker {
	factory := NewFactory(st, lenCounter(), budget, desired, hooks)
	return factory(0, zap.NewNop()).(*Worker)
}

func TestProcessStampsAndScrubs(t *testing.T) {
	st := &memStore{}
	w := newWorker(st, 1000, 0, Hooks{})

	path := writeDayFile(t, []map[string]any{
		{"ts": "1709251200.000100", "text": "hel\x00lo", "user": "U1"},
		{"ts": "1709251201.000200", "text": "world"},
	})
	job := source.FileJob{ChannelID: "C001", Path: path,
		Day: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, w.Process(context.Background(), job))
	require.NoError(t, w.Flush(context.Background()))

	msgs := st.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "1709251200.000100", msgs[0].TS)
	assert.Equal(t, "C001", msgs[0].ChannelID)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, 5, msgs[0].Cost)
	assert.Equal(t, "C001", msgs[0].Raw["channel"])
	assert.Equal(t, "hello", msgs[0].Raw["text"])
}

func TestDesiredSizeFlushesMidFile(t *testing.T) {
	st := &memStore{}
	w := newWorker(st, 1_000_000, 2, Hooks{})

	var raws []map[string]any
	for i := 0; i < 5; i++ {
		raws = append(raws, map[string]any{
			"ts": fmt.Sprintf("1709251200.%06d", i), "text": "m"})
	}
	job := source.FileJob{ChannelID: "C001", Path: writeDayFile(t, raws)}

	require.NoError(t, w.Process(context.Background(), job))
	// Two full batches already flushed; the remainder waits for Flush.
	require.Len(t, st.batches, 2)

	require.NoError(t, w.Flush(context.Background()))
	require.Len(t, st.batches, 3)
	assert.Len(t, st.batches[2], 1)
}

func TestOversizedMessageDroppedNotFatal(t *testing.T) {
	st := &memStore{}
	var dropped int
	w := newWorker(st, 10, 0, Hooks{OnDropped: func() { dropped++ }})

	job := source.FileJob{ChannelID: "C001", Path: writeDayFile(t, []map[string]any{
		{"ts": "1", "text": "ok"},
		{"ts": "2", "text": "this text is far too long for the budget"},
		{"ts": "3", "text": "fine"},
	})}

	require.NoError(t, w.Process(context.Background(), job))
	require.NoError(t, w.Flush(context.Background()))

	msgs := st.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ok", msgs[0].Text)
	assert.Equal(t, "fine", msgs[1].Text)
	assert.Equal(t, 1, dropped)
}

func TestMalformedFileFailsOnlyItsJob(t *testing.T) {
	st := &memStore{}
	w := newWorker(st, 1000, 0, Hooks{})

	path := filepath.Join(t.TempDir(), "2024-03-01.json")
	require.NoError(t, os.WriteFile(path, []byte("{not an array}"), 0o644))

	err := w.Process(context.Background(), source.FileJob{ChannelID: "C001", Path: path})
	require.Error(t, err)
	require.NoError(t, w.Flush(context.Background()))
	assert.Empty(t, st.all())
}

func TestPoolIntegrationBatchesAcrossFiles(t *testing.T) {
	st := &memStore{}
	var flushedMsgs int
	var mu sync.Mutex
	factory := NewFactory(st, lenCounter(), 1_000_000, 500, Hooks{
		OnFlush: func(n int) { mu.Lock(); flushedMsgs += n; mu.Unlock() },
	})

	dir := t.TempDir()
	var jobs []source.FileJob
	total := 0
	for d := 1; d <= 6; d++ {
		var raws []map[string]any
		for i := 0; i < 40; i++ {
			raws = append(raws, map[string]any{
				"ts": fmt.Sprintf("170925%02d.%06d", d, i), "text": "hello"})
			total++
		}
		data, err := json.Marshal(raws)
		require.NoError(t, err)
		path := filepath.Join(dir, fmt.Sprintf("2024-03-%02d.json", d))
		require.NoError(t, os.WriteFile(path, data, 0o644))
		jobs = append(jobs, source.FileJob{ChannelID: "C001", Path: path})
	}

	p := pool.New(3, factory, zap.NewNop())
	require.NoError(t, p.Run(context.Background(), jobs))

	assert.Len(t, st.all(), total)
	assert.Equal(t, total, flushedMsgs)
}
