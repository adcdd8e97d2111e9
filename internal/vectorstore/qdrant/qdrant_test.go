package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icdcoder/internal/domain"
)

type fakeQdrant struct {
	mu       sync.Mutex
	exists   bool
	size     int
	requests []string
	upserted []map[string]any
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/tabular":
			if !f.exists {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"status":{"error":"Not found"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":` + itoa(f.size) + `}}}}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/tabular":
			f.exists = true
			_, _ = w.Write([]byte(`{"result":true,"status":"ok"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/tabular/points":
			var body struct {
				Points []map[string]any `json:"points"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.upserted = append(f.upserted, body.Points...)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/tabular/points/search":
			_, _ = w.Write([]byte(`{"result":[
				{"id":"x","score":0.91,"payload":{"record_id":"A00","text":"Cholera","code":"A00"}},
				{"id":"y","score":0.5,"payload":{"text":"Fever"}}
			]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestStorage(t *testing.T, f *fakeQdrant) *Storage {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "tabular"})
}

func TestStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("Should create a missing collection", func(t *testing.T) {
		f := &fakeQdrant{}
		s := newTestStorage(t, f)
		require.NoError(t, s.Init(ctx, 3))
		assert.Equal(t, []string{"GET /collections/tabular", "PUT /collections/tabular"}, f.requests)
	})

	t.Run("Should reject a collection with a different dimension", func(t *testing.T) {
		f := &fakeQdrant{exists: true, size: 768}
		s := newTestStorage(t, f)
		err := s.Init(ctx, 3)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "768")
	})

	t.Run("Should upsert records with deterministic point ids and payload metadata", func(t *testing.T) {
		f := &fakeQdrant{exists: true, size: 2}
		s := newTestStorage(t, f)
		require.NoError(t, s.Init(ctx, 2))
		err := s.Upsert(ctx,
			[]domain.Record{{ID: "A00", Text: "Cholera", Metadata: map[string]any{"code": "A00"}}},
			[][]float32{{0.1, 0.2}},
		)
		require.NoError(t, err)
		require.Len(t, f.upserted, 1)
		assert.Equal(t, PointID("A00"), f.upserted[0]["id"])
		payload := f.upserted[0]["payload"].(map[string]any)
		assert.Equal(t, "A00", payload["code"])
		assert.Equal(t, "A00", payload["record_id"])
		assert.Equal(t, "Cholera", payload["text"])
	})

	t.Run("Should map search results back to matches", func(t *testing.T) {
		s := newTestStorage(t, &fakeQdrant{exists: true})
		got, err := s.Search(ctx, []float32{0.1, 0.2}, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "A00", got[0].ID)
		assert.Equal(t, "Cholera", got[0].Text)
		assert.Equal(t, "A00", got[0].Metadata["code"])
		assert.InDelta(t, 0.91, got[0].Score, 1e-9)
		assert.Equal(t, "y", got[1].ID)
		assert.NotContains(t, got[1].Metadata, "code")
	})

	t.Run("Should treat clearing a missing collection as success", func(t *testing.T) {
		s := newTestStorage(t, &fakeQdrant{})
		require.NoError(t, s.Clear(ctx))
	})

	t.Run("Should surface server errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)
		s := NewStorage(Config{URL: srv.URL, Collection: "tabular"})
		_, err := s.Search(ctx, []float32{1}, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})
}

func TestPointID(t *testing.T) {
	t.Run("Should be stable and distinct per record", func(t *testing.T) {
		assert.Equal(t, PointID("A00"), PointID("A00"))
		assert.NotEqual(t, PointID("A00"), PointID("A01.0"))
	})
}
