package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDummyShapes(t *testing.T) {
	d := &Dummy{Dim: 4}
	vecs, err := d.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.1, 0.1, 0.1}, vecs[0])
}

func TestDummyDefaultsTo1536(t *testing.T) {
	vecs, err := (&Dummy{}).Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], 1536)
}

func TestEmptyInputIsNoOp(t *testing.T) {
	vecs, err := (&Dummy{}).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Respond out of order; the client must sort by index.
		resp := openai.EmbeddingResponse{
			Data: []openai.Embedding{
				{Index: 1, Embedding: []float32{1}},
				{Index: 0, Embedding: []float32{0}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := NewOpenAI("test-key", srv.URL, "text-embedding-3-small", 100, time.Second)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0}, vecs[0])
	assert.Equal(t, []float32{1}, vecs[1])
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.EmbeddingResponse{ //nolint:errcheck
			Data: []openai.Embedding{{Index: 0, Embedding: []float32{0}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAI("test-key", srv.URL, "text-embedding-3-small", 100, time.Second)
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}
