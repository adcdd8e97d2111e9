package googleai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/googleai"
)

// DefaultModel is the Gemini embedding model the tabular corpus was built with.
const DefaultModel = "models/embedding-001"

// Config configures the Gemini embedder.
type Config struct {
	APIKeyEnv string
	Model     string
	BatchSize int
}

// Embedder adapts a langchaingo embedder to the domain Embedder contract.
type Embedder struct {
	model string
	impl  embeddings.Embedder

	mu        sync.Mutex
	dimension int
}

// New builds a Gemini-backed embedder.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "GOOGLE_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", keyEnv)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client, err := googleai.New(ctx,
		googleai.WithAPIKey(key),
		googleai.WithDefaultEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("googleai embedder: init client: %w", err)
	}
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if cfg.BatchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	impl, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("googleai embedder: construct embedder: %w", err)
	}
	return Wrap(model, impl)
}

// Wrap constructs an Embedder around an existing langchaingo embedder.
func Wrap(model string, impl embeddings.Embedder) (*Embedder, error) {
	if impl == nil {
		return nil, errors.New("googleai embedder: implementation is required")
	}
	return &Embedder{model: model, impl: impl}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "googleai" }

// Prepare is a no-op for remote embedding.
func (e *Embedder) Prepare([]string) error { return nil }

// Dimension returns the vector size observed on the first successful embed.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

// Embed returns the query embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("googleai embedder %s: %w", e.model, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("googleai embedder %s: empty embedding", e.model)
	}
	e.mu.Lock()
	if e.dimension == 0 {
		e.dimension = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}
