package identity

import (
	"context"
	"fmt"
	"image"

	"github.com/your-org/faceid/internal/imaging"
)

// SameFaceSimilarity is the similarity above which two images are
// reported as the same person by Compare.
const SameFaceSimilarity = 0.8

// Verifier authenticates a live capture against the enrolled templates.
// It only ever uses the real generator.
type Verifier struct {
	detector  FaceDetector
	generator Generator
	matcher   *Matcher
	scorer    Scorer
	padding   float32
}

func NewVerifier(detector FaceDetector, generator Generator, matcher *Matcher, scorer Scorer) *Verifier {
	return &Verifier{
		detector:  detector,
		generator: generator,
		matcher:   matcher,
		scorer:    scorer,
		padding:   DefaultFacePadding,
	}
}

// Verify embeds the most confident face in data and identifies it.
func (v *Verifier) Verify(ctx context.Context, data []byte) (MatchResult, error) {
	emb, err := v.Embed(ctx, data)
	if err != nil {
		return MatchResult{}, err
	}
	return v.matcher.Identify(ctx, emb)
}

// Embed decodes data, crops the most confident face and generates its
// embedding.
func (v *Verifier) Embed(ctx context.Context, data []byte) (Embedding, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	crop, err := v.bestFace(ctx, img)
	if err != nil {
		return Embedding{}, err
	}
	return v.generator.Generate(ctx, crop)
}

func (v *Verifier) bestFace(ctx context.Context, img image.Image) (image.Image, error) {
	report, err := v.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	face, ok := report.Best()
	if !ok {
		return nil, fmt.Errorf("%w: no face detected", ErrInvalidImage)
	}
	crop := imaging.CropFace(img, face.Box, v.padding)
	if crop == nil {
		return nil, fmt.Errorf("%w: face outside image", ErrInvalidImage)
	}
	return crop, nil
}

type CompareResult struct {
	Comparison
	Similarity float64
	Same       bool
}

// Compare reports how similar the faces in two images are.
func (v *Verifier) Compare(ctx context.Context, a, b []byte) (CompareResult, error) {
	ea, err := v.Embed(ctx, a)
	if err != nil {
		return CompareResult{}, fmt.Errorf("first image: %w", err)
	}
	eb, err := v.Embed(ctx, b)
	if err != nil {
		return CompareResult{}, fmt.Errorf("second image: %w", err)
	}

	c, err := v.scorer.Compare(ea.values, eb.values)
	if err != nil {
		return CompareResult{}, err
	}
	sim := Similarity(c.Distance)
	return CompareResult{Comparison: c, Similarity: sim, Same: sim > SameFaceSimilarity}, nil
}
