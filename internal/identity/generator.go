package identity

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/your-org/faceid/internal/imaging"
	"github.com/your-org/faceid/internal/observability"
)

const DefaultInferenceTimeout = 5 * time.Second

// RealGenerator produces embeddings with the loaded model: resize and
// normalise the crop, run one inference, then L2 normalise the output.
type RealGenerator struct {
	model   *Lazy[Model]
	norm    imaging.Normalization
	timeout time.Duration
}

func NewRealGenerator(model *Lazy[Model], norm imaging.Normalization, timeout time.Duration) *RealGenerator {
	if timeout <= 0 {
		timeout = DefaultInferenceTimeout
	}
	return &RealGenerator{model: model, norm: norm, timeout: timeout}
}

func (g *RealGenerator) Generate(ctx context.Context, face image.Image) (Embedding, error) {
	if face == nil || face.Bounds().Empty() {
		return Embedding{}, ErrInvalidImage
	}

	m, err := g.model.Get(ctx)
	if err != nil {
		return Embedding{}, err
	}

	start := time.Now()
	w, h := m.InputSize()
	input := imaging.ToTensor(face, w, h, m.Layout(), g.norm)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	out, err := g.infer(ctx, m, input)
	if err != nil {
		return Embedding{}, err
	}
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	l2Normalize(out)
	emb, err := NewEmbedding(out)
	if err != nil {
		return Embedding{}, fmt.Errorf("model output: %w", err)
	}
	return emb, nil
}

type inferResult struct {
	out []float32
	err error
}

func (g *RealGenerator) infer(ctx context.Context, m Model, input []float32) ([]float32, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan inferResult, 1)
	go func() {
		out, err := m.Infer(input)
		done <- inferResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("run embedding: %w", r.err)
		}
		return r.out, nil
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: inference exceeded %s", ErrModelUnavailable, g.timeout)
		}
		return nil, runCtx.Err()
	}
}
