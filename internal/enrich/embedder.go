// Package enrich calls the external embedding API. Callers are responsible
// for keeping each call's combined input under the token budget; the
// batcher in internal/batch does that slicing.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Embedder turns a list of strings into an equal-length list of
// fixed-dimension vectors. An empty input is a no-op, never an error;
// a failed call errors as a whole.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint, rate-limited and
// bounded by a per-call timeout so a stuck call surfaces as a retryable
// error instead of hanging its claim transaction.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
}

func NewOpenAI(apiKey, baseURL, model string, rps int, timeout time.Duration) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if rps < 1 {
		rps = 1
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors",
			len(texts), len(resp.Data))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Dummy produces constant vectors without any network call. Used by tests
// and the --dummy-embeddings flag.
type Dummy struct {
	Dim int
}

func (d *Dummy) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	dim := d.Dim
	if dim <= 0 {
		dim = 1536
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = 0.1
		}
		out[i] = vec
	}
	return out, nil
}

var (
	_ Embedder = (*OpenAIEmbedder)(nil)
	_ Embedder = (*Dummy)(nil)
)
