package domain

import "context"

// Source identifies which reference corpus produced a hit.
type Source string

const (
	SourceTabular Source = "tabular"
	SourceIndex   Source = "index"
)

// UnknownCode is used when a corpus record carries no code metadata.
const UnknownCode = "Unknown"

// Condition is one clinical concept extracted from a symptom description.
type Condition struct {
	Text  string
	Index int
}

// Record is a corpus entry persisted to a vector store.
type Record struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Match is a raw nearest-neighbour result returned by a vector store.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Hit is one candidate code returned by a corpus query.
type Hit struct {
	Code     string
	Score    float64
	Source   Source
	Note     string
	Metadata map[string]any
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, records []Record, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Clear(ctx context.Context) error
}
