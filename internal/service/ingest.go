package service

import (
	"context"
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"icdcoder/internal/domain"
	"icdcoder/internal/logger"
)

const (
	ingestBatchSize   = 128
	ingestConcurrency = 4
)

var tabularMetadataColumns = []string{
	"code", "description", "chapter", "section", "inclusion_terms", "includes",
	"excludes1", "excludes2", "use_additional_code", "code_first", "notes", "parent_codes",
}

var indexMetadataColumns = []string{"code", "main_term", "title", "path"}

// IngestFile loads an extracted corpus CSV and replaces the corpus contents.
func (s *CodingService) IngestFile(ctx context.Context, source domain.Source, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	records, err := ReadCorpusCSV(source, f)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	if err := s.Ingest(ctx, source, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Ingest embeds records with the corpus embedder and replaces the store contents.
func (s *CodingService) Ingest(ctx context.Context, source domain.Source, records []domain.Record) error {
	if len(records) == 0 {
		return errors.New("no corpus records to ingest")
	}
	c, err := s.Corpus(source)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx).With("corpus", source)
	start := time.Now()
	embedder, store := c.Embedder(), c.Store()

	texts := make([]string, len(records))
	for i := range records {
		texts[i] = records[i].Text
	}
	if err := embedder.Prepare(texts); err != nil {
		return fmt.Errorf("prepare %s embedder: %w", embedder.Name(), err)
	}

	vectors := make([][]float32, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for i := range records {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, records[i].Text)
			if err != nil {
				return fmt.Errorf("embed record %s: %w", records[i].ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear %s corpus: %w", source, err)
	}
	if err := store.Init(ctx, len(vectors[0])); err != nil {
		return fmt.Errorf("init %s corpus: %w", source, err)
	}
	for lo := 0; lo < len(records); lo += ingestBatchSize {
		hi := min(lo+ingestBatchSize, len(records))
		if err := store.Upsert(ctx, records[lo:hi], vectors[lo:hi]); err != nil {
			return fmt.Errorf("upsert %s corpus: %w", source, err)
		}
		log.Debug("Upserted batch", "from", lo, "to", hi)
	}
	log.Info("Corpus ingested", "records", len(records), "embedder", embedder.Name(), "duration", time.Since(start))
	return nil
}

// ReadCorpusCSV converts an extracted tabular or index CSV into corpus records.
// Rows without a code are skipped.
func ReadCorpusCSV(source domain.Source, r io.Reader) ([]domain.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["code"]; !ok {
		return nil, errors.New(`missing "code" column`)
	}
	var records []domain.Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		code := get("code")
		if code == "" {
			continue
		}
		switch source {
		case domain.SourceTabular:
			records = append(records, domain.Record{
				ID:       code,
				Text:     tabularText(get),
				Metadata: metadataFrom(get, tabularMetadataColumns),
			})
		case domain.SourceIndex:
			text := fmt.Sprintf("Main term: %s\nTitle: %s\nICD-10 Code: %s", get("main_term"), get("title"), code)
			records = append(records, domain.Record{
				ID:       hashString(text),
				Text:     text,
				Metadata: metadataFrom(get, indexMetadataColumns),
			})
		default:
			return nil, fmt.Errorf("unknown corpus %q", source)
		}
	}
	return records, nil
}

func tabularText(get func(string) string) string {
	return fmt.Sprintf("Code: %s\nDescription: %s\nChapter: %s - %s\nSection: %s - %s",
		get("code"), get("description"),
		get("chapter"), get("chapter_desc"),
		get("section"), get("section_desc"))
}

func metadataFrom(get func(string) string, columns []string) map[string]any {
	meta := make(map[string]any, len(columns))
	for _, c := range columns {
		if v := get(c); v != "" {
			meta[c] = v
		}
	}
	return meta
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
