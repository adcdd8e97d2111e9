package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"icdcoder/internal/domain"
	"icdcoder/internal/vectorstore"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// pointNamespace scopes the deterministic point ids derived from record ids.
var pointNamespace = uuid.MustParse("6f1c2d0a-4b8e-4c1f-9d0e-3a5b7c9e1f20")

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID maps a record id onto the UUID space Qdrant accepts.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	if s.collection == "" {
		return errors.New("qdrant: collection is required")
	}
	s.dimension = dimension
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.doRequest(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	if err == nil {
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("qdrant: collection %s has dimension %d, want %d", s.collection, size, dimension)
		}
		return nil
	}
	var se *statusError
	if !errors.As(err, &se) || se.code != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	return s.doRequest(ctx, http.MethodPut, s.collectionPath(""), body, nil)
}

func (s *Storage) Upsert(ctx context.Context, records []domain.Record, vectors [][]float32) error {
	if len(records) != len(vectors) {
		return errors.New("records and vectors length mismatch")
	}
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i := range records {
		payload := make(map[string]any, len(records[i].Metadata)+2)
		for k, v := range records[i].Metadata {
			payload[k] = v
		}
		payload["record_id"] = records[i].ID
		payload["text"] = records[i].Text
		points[i] = map[string]any{
			"id":      PointID(records[i].ID),
			"vector":  vectors[i],
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	return s.doRequest(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]domain.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := domain.Match{Score: r.Score, Metadata: map[string]any{}}
		for k, v := range r.Payload {
			switch k {
			case "record_id":
				m.ID, _ = v.(string)
			case "text":
				m.Text, _ = v.(string)
			default:
				m.Metadata[k] = v
			}
		}
		if m.ID == "" {
			m.ID = fmt.Sprint(r.ID)
		}
		results = append(results, m)
	}
	return results, nil
}

// Clear drops the collection. A missing collection is not an error.
func (s *Storage) Clear(ctx context.Context) error {
	err := s.doRequest(ctx, http.MethodDelete, s.collectionPath(""), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Storage) collectionPath(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", s.collection, suffix)
}

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant: request failed with status %d: %s", e.code, e.message)
}

func (s *Storage) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, buf)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Status any `json:"status"`
		}
		msg := resp.Status
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Status != nil {
			msg = fmt.Sprint(apiErr.Status)
		}
		return &statusError{code: resp.StatusCode, message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}
