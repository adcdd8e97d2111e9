package tfidf

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

var (
	// ICD-10 text mixes words and alphanumeric codes (E11.9, A01.0).
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:[.'’][\p{L}\p{N}]+)*`)
	codePattern  = regexp.MustCompile(`^[a-z][0-9][0-9a-z](?:\.[0-9a-z]{1,4})?$`)
)

// Embedder is a TF-IDF vectorizer over one corpus. Dotted codes also count
// toward their three-character category so "R50" matches "R50.9".
type Embedder struct {
	mu         sync.RWMutex
	vocabulary map[string]int
	idf        []float64
	prepared   bool
	stopwords  map[string]struct{}
}

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder() *Embedder {
	return &Embedder{vocabulary: map[string]int{}, stopwords: defaultStopwords()}
}

func (e *Embedder) Name() string { return "tfidf" }

// Prepare fits the vocabulary and smoothed IDF weights to corpus.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return errors.New("empty corpus for TF-IDF prepare")
	}
	df := make(map[string]int)
	for _, text := range corpus {
		for tok := range termCounts(e.tokenize(text)) {
			df[tok]++
		}
	}
	if len(df) == 0 {
		return errors.New("no tokens found in corpus")
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		vocabulary[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vocabulary = vocabulary
	e.idf = idf
	e.prepared = true
	return nil
}

// Dimension is the vocabulary size, zero before Prepare.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.idf)
}

// Embed returns the L2-normalized TF-IDF vector of text. Text with no known
// terms yields a zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.prepared {
		return nil, errors.New("tfidf embedder not prepared")
	}
	out := make([]float32, len(e.idf))
	counts := termCounts(e.tokenize(text))
	total := 0
	for tok, c := range counts {
		if _, ok := e.vocabulary[tok]; ok {
			total += c
		}
	}
	if total == 0 {
		return out, nil
	}
	var sq float64
	weights := make(map[int]float64, len(counts))
	for tok, c := range counts {
		idx, ok := e.vocabulary[tok]
		if !ok {
			continue
		}
		w := float64(c) / float64(total) * e.idf[idx]
		weights[idx] = w
		sq += w * w
	}
	l2 := math.Sqrt(sq)
	for idx, w := range weights {
		out[idx] = float32(w / l2)
	}
	return out, nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(norm.NFKC.String(text)), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, stop := e.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
		if category, ok := codeCategory(t); ok {
			out = append(out, category)
		}
	}
	return out
}

// codeCategory returns "r50" for "r50.9".
func codeCategory(tok string) (string, bool) {
	if !codePattern.MatchString(tok) {
		return "", false
	}
	dot := strings.IndexByte(tok, '.')
	if dot < 0 {
		return "", false
	}
	return tok[:dot], true
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"patient", "has", "reports", "also", "code", "title", "main", "term", "description",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
