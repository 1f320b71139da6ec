package vision

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/imaging"
	"github.com/your-org/faceid/internal/observability"
)

// boxFinder is the part of *Detector that FaceFinder runs.
type boxFinder interface {
	Detect(img image.Image) ([]Detection, error)
}

// FaceFinder adapts the lazily loaded RetinaFace detector to
// identity.FaceDetector and scores every face for enrollment quality.
// A run that exceeds timeout is reported as identity.ErrModelUnavailable.
type FaceFinder struct {
	load    func(ctx context.Context) (boxFinder, error)
	timeout time.Duration
}

func NewFaceFinder(detector *identity.Lazy[*Detector], timeout time.Duration) *FaceFinder {
	return newFaceFinder(func(ctx context.Context) (boxFinder, error) {
		det, err := detector.Get(ctx)
		if err != nil {
			return nil, err
		}
		return det, nil
	}, timeout)
}

func newFaceFinder(load func(context.Context) (boxFinder, error), timeout time.Duration) *FaceFinder {
	if timeout <= 0 {
		timeout = identity.DefaultInferenceTimeout
	}
	return &FaceFinder{load: load, timeout: timeout}
}

type detectResult struct {
	detections []Detection
	err        error
}

func (f *FaceFinder) Detect(ctx context.Context, img image.Image) (identity.DetectionReport, error) {
	det, err := f.load(ctx)
	if err != nil {
		return identity.DetectionReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return identity.DetectionReport{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan detectResult, 1)
	go func() {
		dets, err := det.Detect(img)
		done <- detectResult{detections: dets, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return identity.DetectionReport{}, fmt.Errorf("detect: %w", r.err)
		}
		observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
		return buildReport(img, r.detections), nil
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return identity.DetectionReport{}, err
		}
		return identity.DetectionReport{}, fmt.Errorf("%w: detection exceeded %s",
			identity.ErrModelUnavailable, f.timeout)
	}
}

// buildReport converts detections into identity faces. Boxes are shifted
// into the image's coordinate space and each face is scored from its
// confidence and the sharpness of its unpadded crop.
func buildReport(img image.Image, detections []Detection) identity.DetectionReport {
	origin := img.Bounds().Min
	report := identity.DetectionReport{Faces: make([]identity.Face, 0, len(detections))}

	for _, d := range detections {
		box := [4]float32{
			d.BBox[0] + float32(origin.X),
			d.BBox[1] + float32(origin.Y),
			d.BBox[2] + float32(origin.X),
			d.BBox[3] + float32(origin.Y),
		}

		var sharpness float64
		if crop := imaging.CropFace(img, box, 0); crop != nil {
			sharpness = imaging.LaplacianVariance(crop)
		}

		report.Faces = append(report.Faces, identity.Face{
			Box:        box,
			Confidence: d.Confidence,
			Score:      identity.QualityScore(d.Confidence, sharpness),
		})
	}
	return report
}
