package identity

import (
	"fmt"
	"math"
)

// DimensionPolicy decides how two embeddings of different length are compared.
type DimensionPolicy int

const (
	// TruncateToShorter compares the leading min(len(a), len(b)) components
	// and flags the comparison as a dimension mismatch.
	TruncateToShorter DimensionPolicy = iota
	// StrictDimensions refuses to compare embeddings of different length.
	StrictDimensions
)

func (p DimensionPolicy) String() string {
	if p == StrictDimensions {
		return "strict"
	}
	return "truncate"
}

func ParseDimensionPolicy(s string) (DimensionPolicy, error) {
	switch s {
	case "", "truncate":
		return TruncateToShorter, nil
	case "strict":
		return StrictDimensions, nil
	}
	return 0, fmt.Errorf("unknown dimension policy %q", s)
}

// Comparison is the result of scoring two embeddings.
type Comparison struct {
	Distance          float64
	DimensionMismatch bool
	LenA              int
	LenB              int
	Compared          int
}

// Scorer computes Euclidean distances. The zero value uses TruncateToShorter.
// A Scorer holds no state and is safe for concurrent use.
type Scorer struct {
	Policy DimensionPolicy
}

func (s Scorer) Compare(a, b []float32) (Comparison, error) {
	c := Comparison{LenA: len(a), LenB: len(b)}
	if len(a) == 0 || len(b) == 0 {
		return c, ErrEmptyEmbedding
	}

	n := len(a)
	if len(b) != len(a) {
		if s.Policy == StrictDimensions {
			return c, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
		}
		c.DimensionMismatch = true
		n = min(len(a), len(b))
	}
	c.Compared = n

	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	dist := math.Sqrt(sum)
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		return c, ErrNonFinite
	}
	c.Distance = dist
	return c, nil
}

// Distance compares a and b under the default policy.
func Distance(a, b []float32) (float64, error) {
	c, err := Scorer{}.Compare(a, b)
	if err != nil {
		return 0, err
	}
	return c.Distance, nil
}

// Similarity maps a distance onto [0, 1] as max(0, 1 - d/1.2).
func Similarity(distance float64) float64 {
	return math.Max(0, 1-distance/1.2)
}
