package vision

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/identity"
)

func TestIoU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	assert.Zero(t, iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}))
	assert.InDelta(t, 25.0/175.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
	assert.Zero(t, iou([4]float32{0, 0, 0, 0}, [4]float32{0, 0, 0, 0}))
}

func TestNMSKeepsMostConfident(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.7},
		{BBox: [4]float32{2, 2, 102, 102}, Confidence: 0.95},
		{BBox: [4]float32{300, 300, 400, 400}, Confidence: 0.8},
	}
	kept := nms(dets, nmsIoU)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.95), kept[0].Confidence)
	assert.Equal(t, float32(0.8), kept[1].Confidence)
	assert.Equal(t, float32(0.7), dets[0].Confidence, "input order is preserved")

	assert.Empty(t, nms(nil, nmsIoU))
}

func TestBuildReportScoresFaces(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			v := uint8(128)
			if x >= 50 && x < 150 && (x+y)%2 == 0 {
				v = 255
			}
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}

	report := buildReport(img, []Detection{
		{BBox: [4]float32{50, 50, 150, 150}, Confidence: 0.99},
		{BBox: [4]float32{0, 160, 40, 200}, Confidence: 0.6},
	})
	require.Equal(t, 2, report.Count())

	sharp := report.Faces[0]
	assert.InDelta(t, 0.7*99+0.3*100, sharp.Score, 1e-3)

	flat := report.Faces[1]
	assert.InDelta(t, 0.7*60, flat.Score, 1e-3)

	best, ok := report.Best()
	require.True(t, ok)
	assert.Equal(t, sharp.Box, best.Box)
}

func TestClampF(t *testing.T) {
	assert.Equal(t, float32(0), clampF(-3, 0, 10))
	assert.Equal(t, float32(10), clampF(12, 0, 10))
	assert.Equal(t, float32(4), clampF(4, 0, 10))
}

type stallingBoxes struct {
	release chan struct{}
	dets    []Detection
}

func (s *stallingBoxes) Detect(image.Image) ([]Detection, error) {
	if s.release != nil {
		<-s.release
	}
	return s.dets, nil
}

func finderFor(b boxFinder, timeout time.Duration) *FaceFinder {
	return newFaceFinder(func(context.Context) (boxFinder, error) { return b, nil }, timeout)
}

func TestFaceFinderTimesOut(t *testing.T) {
	boxes := &stallingBoxes{release: make(chan struct{})}
	t.Cleanup(func() { close(boxes.release) })

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	_, err := finderFor(boxes, 20*time.Millisecond).Detect(context.Background(), img)
	assert.ErrorIs(t, err, identity.ErrModelUnavailable)
}

func TestFaceFinderHonoursCallerCancellation(t *testing.T) {
	boxes := &stallingBoxes{release: make(chan struct{})}
	t.Cleanup(func() { close(boxes.release) })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	_, err := finderFor(boxes, time.Minute).Detect(ctx, img)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, identity.ErrModelUnavailable)
}

func TestFaceFinderReportsDetections(t *testing.T) {
	boxes := &stallingBoxes{dets: []Detection{{BBox: [4]float32{10, 10, 40, 40}, Confidence: 0.9}}}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	report, err := finderFor(boxes, time.Second).Detect(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count())
}

func TestFaceFinderLoadFailure(t *testing.T) {
	f := newFaceFinder(func(context.Context) (boxFinder, error) {
		return nil, identity.ErrModelUnavailable
	}, 0)
	_, err := f.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	assert.True(t, errors.Is(err, identity.ErrModelUnavailable))
	assert.Equal(t, identity.DefaultInferenceTimeout, f.timeout)
}
