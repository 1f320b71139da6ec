package identity

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/your-org/faceid/internal/imaging"
)

// Preview is an embedding shown to a client for inspection. Synthetic is
// set when the vector came from the degraded generator.
type Preview struct {
	Values    []float32
	Synthetic bool
	FaceCount int
	Quality   float64
}

// Previewer computes embedding previews. When the model is unavailable and
// a degraded generator is configured it falls back to a synthetic vector.
type Previewer struct {
	detector FaceDetector
	real     Generator
	degraded *DegradedGenerator
	padding  float32
}

func NewPreviewer(detector FaceDetector, real Generator, degraded *DegradedGenerator) *Previewer {
	return &Previewer{detector: detector, real: real, degraded: degraded, padding: DefaultFacePadding}
}

func (p *Previewer) Preview(ctx context.Context, data []byte) (Preview, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return Preview{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	report, err := p.detector.Detect(ctx, img)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) && p.degraded != nil {
			return p.synthetic(ctx, img, err)
		}
		return Preview{}, fmt.Errorf("detect faces: %w", err)
	}

	face, ok := report.Best()
	if !ok {
		return Preview{}, fmt.Errorf("%w: no face detected", ErrInvalidImage)
	}
	crop := imaging.CropFace(img, face.Box, p.padding)
	if crop == nil {
		return Preview{}, fmt.Errorf("%w: face outside image", ErrInvalidImage)
	}

	emb, err := p.real.Generate(ctx, crop)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) && p.degraded != nil {
			out, derr := p.synthetic(ctx, crop, err)
			out.FaceCount = report.Count()
			out.Quality = face.Score
			return out, derr
		}
		return Preview{}, err
	}

	return Preview{
		Values:    emb.Values(),
		FaceCount: report.Count(),
		Quality:   face.Score,
	}, nil
}

func (p *Previewer) synthetic(ctx context.Context, img image.Image, cause error) (Preview, error) {
	slog.Warn("model unavailable, serving synthetic preview", "error", cause)
	syn, err := p.degraded.Generate(ctx, img)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Values: syn.Values(), Synthetic: true}, nil
}
