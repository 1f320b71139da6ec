package identity

import (
	"context"
	"hash/fnv"
	"image"
	"math/rand/v2"

	"github.com/your-org/faceid/internal/imaging"
)

const DefaultEmbeddingDim = 128

// DegradedGenerator derives a deterministic unit vector from the image
// pixels. It stands in for the model in previews when the model cannot be
// loaded. Its output is a SyntheticEmbedding and cannot be enrolled or matched.
type DegradedGenerator struct {
	Dim int
}

func (g DegradedGenerator) Generate(ctx context.Context, img image.Image) (SyntheticEmbedding, error) {
	if err := ctx.Err(); err != nil {
		return SyntheticEmbedding{}, err
	}
	if img == nil || img.Bounds().Empty() {
		return SyntheticEmbedding{}, ErrInvalidImage
	}

	dim := g.Dim
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}

	thumb := imaging.Resize(img, 16, 16)
	h := fnv.New64a()
	h.Write(thumb.Pix)
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	values := make([]float32, dim)
	for i := range values {
		values[i] = float32(rng.NormFloat64())
	}
	l2Normalize(values)

	return SyntheticEmbedding{values: values}, nil
}
