package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icdcoder/internal/domain"
)

func seeded(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx,
		[]domain.Record{
			{ID: "a", Text: "cholera", Metadata: map[string]any{"code": "A00"}},
			{ID: "b", Text: "fever", Metadata: map[string]any{"code": "R50.9"}},
			{ID: "c", Text: "fever again", Metadata: map[string]any{"code": "R50.8"}},
		},
		[][]float32{{1, 0}, {0, 1}, {0, 2}},
	))
	return s
}

func TestStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject invalid dimensions", func(t *testing.T) {
		require.Error(t, NewStorage().Init(ctx, 0))
	})

	t.Run("Should reject mismatched inputs", func(t *testing.T) {
		s := NewStorage()
		require.NoError(t, s.Init(ctx, 2))
		require.Error(t, s.Upsert(ctx, []domain.Record{{ID: "a"}}, nil))
		require.Error(t, s.Upsert(ctx, []domain.Record{{ID: "a"}}, [][]float32{{1, 2, 3}}))
	})

	t.Run("Should rank by cosine and keep insertion order on ties", func(t *testing.T) {
		s := seeded(t)
		got, err := s.Search(ctx, []float32{0, 1}, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "b", got[0].ID)
		assert.Equal(t, "c", got[1].ID)
		assert.InDelta(t, 1.0, got[0].Score, 1e-9)
		assert.InDelta(t, 1.0, got[1].Score, 1e-9)
		assert.Equal(t, "A00", got[2].Metadata["code"])
	})

	t.Run("Should default and clamp topK", func(t *testing.T) {
		s := seeded(t)
		got, err := s.Search(ctx, []float32{1, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, got, 3)
		got, err = s.Search(ctx, []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("Should replace records with the same id", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.Upsert(ctx,
			[]domain.Record{{ID: "a", Text: "cholera, updated", Metadata: map[string]any{"code": "A00.9"}}},
			[][]float32{{0, 1}},
		))
		assert.Equal(t, 3, s.Len())
		got, err := s.Search(ctx, []float32{0, 1}, 1)
		require.NoError(t, err)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "cholera, updated", got[0].Text)
		assert.Equal(t, "A00.9", got[0].Metadata["code"])
	})

	t.Run("Should return nothing after clear", func(t *testing.T) {
		s := seeded(t)
		require.NoError(t, s.Clear(ctx))
		got, err := s.Search(ctx, []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Should honour a cancelled context", func(t *testing.T) {
		s := seeded(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Search(cctx, []float32{1, 0}, 1)
		require.ErrorIs(t, err, context.Canceled)
	})
}
