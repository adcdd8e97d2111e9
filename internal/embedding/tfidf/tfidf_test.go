package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedder(t *testing.T) {
	ctx := context.Background()
	corpus := []string{
		"Code: A00\nDescription: Cholera",
		"Code: R50.9\nDescription: Fever, unspecified",
		"Code: R05\nDescription: Cough",
	}

	t.Run("Should fail to embed before prepare", func(t *testing.T) {
		_, err := NewEmbedder().Embed(ctx, "fever")
		require.Error(t, err)
	})

	t.Run("Should fail to prepare an empty corpus", func(t *testing.T) {
		require.Error(t, NewEmbedder().Prepare(nil))
	})

	t.Run("Should produce unit vectors of the vocabulary dimension", func(t *testing.T) {
		e := NewEmbedder()
		require.NoError(t, e.Prepare(corpus))
		vec, err := e.Embed(ctx, "persistent fever")
		require.NoError(t, err)
		require.Len(t, vec, e.Dimension())
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
	})

	t.Run("Should keep dotted codes whole and add their category", func(t *testing.T) {
		e := NewEmbedder()
		require.NoError(t, e.Prepare(corpus))
		vec, err := e.Embed(ctx, "r50.9")
		require.NoError(t, err)
		nonZero := 0
		for _, v := range vec {
			if v != 0 {
				nonZero++
			}
		}
		assert.Equal(t, 2, nonZero)
	})

	t.Run("Should match a bare category against its dotted codes", func(t *testing.T) {
		e := NewEmbedder()
		require.NoError(t, e.Prepare(corpus))
		q, err := e.Embed(ctx, "R50")
		require.NoError(t, err)
		fever, err := e.Embed(ctx, corpus[1])
		require.NoError(t, err)
		cough, err := e.Embed(ctx, corpus[2])
		require.NoError(t, err)
		assert.Greater(t, dot(q, fever), dot(q, cough))
	})

	t.Run("Should fold fullwidth characters before tokenizing", func(t *testing.T) {
		e := NewEmbedder()
		require.NoError(t, e.Prepare(corpus))
		a, err := e.Embed(ctx, "Ｃｏｕｇｈ")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "cough")
		require.NoError(t, err)
		assert.Equal(t, b, a)
	})

	t.Run("Should return a zero vector for out-of-vocabulary text", func(t *testing.T) {
		e := NewEmbedder()
		require.NoError(t, e.Prepare(corpus))
		vec, err := e.Embed(ctx, "zzz qqq")
		require.NoError(t, err)
		for _, v := range vec {
			assert.Zero(t, v)
		}
	})
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestCodeCategory(t *testing.T) {
	t.Run("Should only expand dotted code tokens", func(t *testing.T) {
		c, ok := codeCategory("e11.65")
		assert.True(t, ok)
		assert.Equal(t, "e11", c)
		_, ok = codeCategory("r05")
		assert.False(t, ok)
		_, ok = codeCategory("fever")
		assert.False(t, ok)
	})
}
