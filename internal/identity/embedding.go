package identity

import (
	"fmt"
	"math"
)

// Embedding is a face embedding produced by the real model or loaded from
// storage. Synthetic vectors have their own type and cannot be converted
// into an Embedding, so they never reach matching or enrollment.
type Embedding struct {
	values []float32
}

// NewEmbedding validates and copies values. The slice must be non-empty and
// every component finite.
func NewEmbedding(values []float32) (Embedding, error) {
	if len(values) == 0 {
		return Embedding{}, ErrEmptyEmbedding
	}
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Embedding{}, fmt.Errorf("component %d: %w", i, ErrNonFinite)
		}
	}
	out := make([]float32, len(values))
	copy(out, values)
	return Embedding{values: out}, nil
}

// Values returns a copy of the components.
func (e Embedding) Values() []float32 {
	out := make([]float32, len(e.values))
	copy(out, e.values)
	return out
}

func (e Embedding) Len() int { return len(e.values) }

func (e Embedding) IsZero() bool { return len(e.values) == 0 }

// SyntheticEmbedding is a placeholder vector produced without the model.
// It is only ever shown to callers as a preview.
type SyntheticEmbedding struct {
	values []float32
}

func (SyntheticEmbedding) Synthetic() bool { return true }

func (s SyntheticEmbedding) Values() []float32 {
	out := make([]float32, len(s.values))
	copy(out, s.values)
	return out
}

func (s SyntheticEmbedding) Len() int { return len(s.values) }

// l2Normalize scales v in place to unit length. Zero vectors are left as is.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
