package corpus

import (
	"context"
	"errors"
	"fmt"
	"math"

	"icdcoder/internal/domain"
	"icdcoder/internal/vectorstore"
)

// RetrievalError reports a failed corpus query.
type RetrievalError struct {
	Corpus    domain.Source
	Condition string
	Err       error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval from %s corpus failed for %q: %v", e.Corpus, e.Condition, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err wraps a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// Adapter queries one reference corpus. It is bound to the embedder the corpus
// was built with for its whole lifetime.
type Adapter struct {
	source   domain.Source
	embedder domain.Embedder
	store    domain.VectorStore
	topK     int
}

// NewAdapter binds a corpus to its embedder and store.
func NewAdapter(source domain.Source, embedder domain.Embedder, store domain.VectorStore, topK int) *Adapter {
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	return &Adapter{source: source, embedder: embedder, store: store, topK: topK}
}

func (a *Adapter) Source() domain.Source { return a.source }

func (a *Adapter) Embedder() domain.Embedder { return a.embedder }

func (a *Adapter) Store() domain.VectorStore { return a.store }

// Query returns the corpus hits for text in the order the store ranked them.
func (a *Adapter) Query(ctx context.Context, text string) ([]domain.Hit, error) {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &RetrievalError{Corpus: a.source, Condition: text, Err: err}
	}
	matches, err := a.store.Search(ctx, vec, a.topK)
	if err != nil {
		return nil, &RetrievalError{Corpus: a.source, Condition: text, Err: err}
	}
	hits := make([]domain.Hit, 0, len(matches))
	for _, m := range matches {
		code := CodeOf(m.Metadata)
		hits = append(hits, domain.Hit{
			Code:     code,
			Score:    Round3(m.Score),
			Source:   a.source,
			Note:     fmt.Sprintf("%s Match: %s", label(a.source), code),
			Metadata: m.Metadata,
		})
	}
	return hits, nil
}

// CodeOf reads the "code" metadata field, defaulting to domain.UnknownCode.
func CodeOf(metadata map[string]any) string {
	if v, ok := metadata["code"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		if v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return domain.UnknownCode
}

// Round3 rounds a similarity score to three decimal digits.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func label(s domain.Source) string {
	switch s {
	case domain.SourceTabular:
		return "Tabular"
	case domain.SourceIndex:
		return "Index"
	default:
		return string(s)
	}
}
