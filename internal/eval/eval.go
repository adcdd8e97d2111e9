package eval

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"icdcoder/internal/domain"
	"icdcoder/internal/logger"
)

// Searcher produces a ranked answer for a symptom description.
type Searcher interface {
	Search(ctx context.Context, symptoms string) (domain.ToolResult, error)
}

// Sample is one labelled evaluation row.
type Sample struct {
	Input    string
	Expected string
}

// Report summarizes a run. Samples whose search failed are counted in Skipped
// and excluded from the scores.
type Report struct {
	Total    int     `json:"total"`
	Scored   int     `json:"scored"`
	Skipped  int     `json:"skipped"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
	F1       float64 `json:"f1"`
}

// ReadSamples loads a CSV with "input" and "output" header columns.
func ReadSamples(r io.Reader) ([]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	in, out := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "input":
			in = i
		case "output":
			out = i
		}
	}
	if in < 0 || out < 0 {
		return nil, errors.New("csv must have input and output columns")
	}
	var samples []Sample
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if in >= len(row) || out >= len(row) {
			continue
		}
		samples = append(samples, Sample{Input: row[in], Expected: strings.TrimSpace(row[out])})
	}
	return samples, nil
}

// ReadSamplesFile reads samples from path, keeping at most limit rows when limit > 0.
func ReadSamplesFile(path string, limit int) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	samples, err := ReadSamples(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if limit > 0 && len(samples) > limit {
		samples = samples[:limit]
	}
	return samples, nil
}

// Run scores the top-ranked code of each sample against its label.
func Run(ctx context.Context, s Searcher, samples []Sample) (Report, error) {
	log := logger.FromContext(ctx)
	rep := Report{Total: len(samples)}
	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res, err := s.Search(ctx, sample.Input)
		if err != nil || len(res.ICD10Codes) == 0 {
			rep.Skipped++
			log.Warn("Sample skipped", "sample", i, "error", err)
			continue
		}
		rep.Scored++
		if strings.EqualFold(res.ICD10Codes[0], sample.Expected) {
			rep.Correct++
		}
	}
	if rep.Scored > 0 {
		rep.Accuracy = float64(rep.Correct) / float64(rep.Scored)
	}
	rep.F1 = f1(rep.Correct, rep.Scored)
	return rep, nil
}

// f1 treats every scored sample as a positive prediction, so precision is the
// hit rate and recall is 1 whenever any hit exists.
func f1(correct, scored int) float64 {
	if correct == 0 || scored == 0 {
		return 0
	}
	precision := float64(correct) / float64(scored)
	return 2 * precision / (precision + 1)
}
