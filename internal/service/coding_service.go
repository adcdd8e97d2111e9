package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"icdcoder/internal/domain"
	"icdcoder/internal/logger"
	"icdcoder/internal/metrics"
	"icdcoder/internal/segment"
)

const (
	DefaultSingleConditionCap = 5
	DefaultMultiConditionCap  = 3

	notePreviewRunes = 30
)

// ErrEmptySymptoms is returned when the symptom description is blank.
var ErrEmptySymptoms = errors.New("symptoms must not be empty")

// Corpus is one queryable reference collection.
type Corpus interface {
	Source() domain.Source
	Embedder() domain.Embedder
	Store() domain.VectorStore
	Query(ctx context.Context, text string) ([]domain.Hit, error)
}

// Options tunes per-condition result caps.
type Options struct {
	SingleConditionCap int
	MultiConditionCap  int
}

// CodingService retrieves and ranks candidate ICD-10 codes for symptom text.
type CodingService struct {
	tabular   Corpus
	index     Corpus
	segmenter *segment.Segmenter
	singleCap int
	multiCap  int
	metrics   *metrics.Metrics
}

func NewCodingService(tabular, index Corpus, opts Options, m *metrics.Metrics) *CodingService {
	if opts.SingleConditionCap <= 0 {
		opts.SingleConditionCap = DefaultSingleConditionCap
	}
	if opts.MultiConditionCap <= 0 {
		opts.MultiConditionCap = DefaultMultiConditionCap
	}
	return &CodingService{
		tabular:   tabular,
		index:     index,
		segmenter: segment.New(),
		singleCap: opts.SingleConditionCap,
		multiCap:  opts.MultiConditionCap,
		metrics:   m,
	}
}

// Corpus returns the corpus registered for source.
func (s *CodingService) Corpus(source domain.Source) (Corpus, error) {
	switch source {
	case domain.SourceTabular:
		return s.tabular, nil
	case domain.SourceIndex:
		return s.index, nil
	default:
		return nil, fmt.Errorf("unknown corpus %q", source)
	}
}

// Conditions normalizes symptoms and splits them into conditions.
func (s *CodingService) Conditions(symptoms string) ([]domain.Condition, error) {
	text := strings.TrimSpace(norm.NFKC.String(symptoms))
	if text == "" {
		return nil, ErrEmptySymptoms
	}
	parts := s.segmenter.Segment(text)
	out := make([]domain.Condition, len(parts))
	for i, p := range parts {
		out[i] = domain.Condition{Text: p, Index: i}
	}
	return out, nil
}

// SearchICD10Code runs the full retrieval pipeline for one symptom description.
func (s *CodingService) SearchICD10Code(ctx context.Context, symptoms string) (domain.RankedResult, error) {
	log := logger.FromContext(ctx)
	conditions, err := s.Conditions(symptoms)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveConditions(len(conditions))
	log.Info("Conditions detected", "count", len(conditions))
	perCondition := make([]domain.RankedResult, 0, len(conditions))
	for _, c := range conditions {
		log.Debug("Processing condition", "condition_index", c.Index+1, "condition", preview(c.Text, 60))
		res, err := s.Aggregate(ctx, c, len(conditions))
		if err != nil {
			return nil, err
		}
		perCondition = append(perCondition, res)
	}
	ranked := Rank(perCondition)
	s.metrics.ObserveRanked(len(ranked))
	log.Info("Ranked codes", "unique_codes", len(ranked))
	return ranked, nil
}

// Search is the tool-facing entry point returning positionally aligned lists.
func (s *CodingService) Search(ctx context.Context, symptoms string) (domain.ToolResult, error) {
	ranked, err := s.SearchICD10Code(ctx, symptoms)
	if err != nil {
		return domain.ToolResult{}, err
	}
	return ranked.ToolResult(), nil
}

// Aggregate queries both corpora for one condition and returns its capped ranking.
// Tabular hits take precedence over index hits sharing a code.
func (s *CodingService) Aggregate(ctx context.Context, c domain.Condition, total int) (domain.RankedResult, error) {
	var tabularHits, indexHits []domain.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tabularHits, err = s.query(gctx, s.tabular, c.Text)
		return err
	})
	g.Go(func() error {
		var err error
		indexHits, err = s.query(gctx, s.index, c.Text)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	suffix := fmt.Sprintf(". Condition %d: %s...", c.Index+1, preview(c.Text, notePreviewRunes))
	seen := make(map[string]struct{}, len(tabularHits)+len(indexHits))
	merged := make(domain.RankedResult, 0, len(tabularHits)+len(indexHits))
	for _, hits := range [][]domain.Hit{tabularHits, indexHits} {
		for _, h := range hits {
			if _, dup := seen[h.Code]; dup {
				continue
			}
			seen[h.Code] = struct{}{}
			merged = append(merged, domain.Ranked{
				Code:       h.Code,
				Confidence: h.Score,
				Note:       h.Note + suffix,
				Source:     h.Source,
			})
		}
	}

	limit := s.singleCap
	if total > 1 {
		limit = s.multiCap
	}
	sortByConfidence(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (s *CodingService) query(ctx context.Context, c Corpus, text string) ([]domain.Hit, error) {
	start := time.Now()
	hits, err := c.Query(ctx, text)
	s.metrics.ObserveQuery(string(c.Source()), time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Corpus query failed", "corpus", c.Source(), "error", err)
		return nil, err
	}
	logger.FromContext(ctx).Debug("Corpus queried", "corpus", c.Source(), "hits", len(hits), "duration", time.Since(start))
	return hits, nil
}

// Rank merges per-condition results into one globally sorted list. The first
// occurrence of a code wins, even over a later higher-confidence duplicate.
func Rank(perCondition []domain.RankedResult) domain.RankedResult {
	seen := make(map[string]struct{})
	out := make(domain.RankedResult, 0)
	for _, res := range perCondition {
		for _, r := range res {
			if _, dup := seen[r.Code]; dup {
				continue
			}
			seen[r.Code] = struct{}{}
			out = append(out, r)
		}
	}
	sortByConfidence(out)
	return out
}

func sortByConfidence(r domain.RankedResult) {
	sort.SliceStable(r, func(i, j int) bool { return r[i].Confidence > r[j].Confidence })
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
