package identity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceBasics(t *testing.T) {
	a := []float32{0.1, 0.2, 0.3, 0.4}
	b := []float32{0.4, 0.3, 0.2, 0.1}

	d, err := Distance(a, a)
	require.NoError(t, err)
	assert.Zero(t, d)

	ab, err := Distance(a, b)
	require.NoError(t, err)
	ba, err := Distance(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.InDelta(t, math.Sqrt(0.09+0.01+0.01+0.09), ab, 1e-6)

	d, err = Distance([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestScorerDimensionPolicies(t *testing.T) {
	long := []float32{1, 2, 3, 100}
	short := []float32{1, 2, 3}

	c, err := Scorer{Policy: TruncateToShorter}.Compare(long, short)
	require.NoError(t, err)
	assert.Zero(t, c.Distance)
	assert.True(t, c.DimensionMismatch)
	assert.Equal(t, 4, c.LenA)
	assert.Equal(t, 3, c.LenB)
	assert.Equal(t, 3, c.Compared)

	_, err = Scorer{Policy: StrictDimensions}.Compare(long, short)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	c, err = Scorer{Policy: StrictDimensions}.Compare(short, short)
	require.NoError(t, err)
	assert.False(t, c.DimensionMismatch)
}

func TestScorerErrors(t *testing.T) {
	_, err := Distance(nil, []float32{1})
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
	_, err = Distance([]float32{1}, []float32{})
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	nan := float32(math.NaN())
	_, err = Distance([]float32{nan}, []float32{1})
	assert.ErrorIs(t, err, ErrNonFinite)

	inf := float32(math.Inf(1))
	_, err = Distance([]float32{inf}, []float32{1})
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestParseDimensionPolicy(t *testing.T) {
	p, err := ParseDimensionPolicy("strict")
	require.NoError(t, err)
	assert.Equal(t, StrictDimensions, p)

	p, err = ParseDimensionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, TruncateToShorter, p)

	_, err = ParseDimensionPolicy("pad")
	assert.Error(t, err)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0))
	assert.InDelta(t, 0.5, Similarity(0.6), 1e-9)
	assert.Zero(t, Similarity(1.2))
	assert.Zero(t, Similarity(3))
}

func TestNewEmbeddingValidates(t *testing.T) {
	_, err := NewEmbedding(nil)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)

	_, err = NewEmbedding([]float32{1, float32(math.NaN())})
	assert.ErrorIs(t, err, ErrNonFinite)

	src := []float32{1, 2}
	e, err := NewEmbedding(src)
	require.NoError(t, err)
	src[0] = 9
	assert.Equal(t, []float32{1, 2}, e.Values())
	assert.Equal(t, 2, e.Len())
	assert.False(t, e.IsZero())
	assert.True(t, Embedding{}.IsZero())
}
