package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenSet map[string]bool

func (s seenSet) Seen(_ context.Context, digest string) (bool, error) { return s[digest], nil }

func TestGateAcceptsGoodImage(t *testing.T) {
	gen := &stubGenerator{values: []float32{0.6, 0.8}}
	g := NewGate(GateConfig{}, oneFace(97.5), gen)

	o := g.Screen(context.Background(), seenSet{}, testImage(t, 320, 320, 1))
	require.True(t, o.Accepted, o.Message())
	assert.Equal(t, ReasonNone, o.Reason)
	assert.Equal(t, ResultSuccess, o.Result())
	assert.Equal(t, 97.5, o.Quality)
	assert.Equal(t, "png", o.Format)
	assert.Equal(t, []float32{0.6, 0.8}, o.Embedding.Values())
	assert.Len(t, o.Digest, 64)
	assert.Empty(t, o.Message())
}

func TestGateRejections(t *testing.T) {
	good := testImage(t, 320, 320, 1)

	twoFaces := &stubDetector{report: DetectionReport{Faces: []Face{
		{Box: [4]float32{10, 10, 100, 100}, Confidence: 0.9, Score: 95},
		{Box: [4]float32{150, 150, 250, 250}, Confidence: 0.9, Score: 95},
	}}}

	tests := []struct {
		name     string
		data     []byte
		seen     seenSet
		detector *stubDetector
		gen      *stubGenerator
		reason   RejectReason
		result   Result
		class    RejectClass
		sentinel error
	}{
		{"duplicate", good, seenSet{Digest(good): true}, oneFace(99), &stubGenerator{values: []float32{1}}, ReasonDuplicate, ResultDuplicate, ClassDuplicate, ErrDuplicateImage},
		{"undecodable", []byte("garbage"), seenSet{}, oneFace(99), &stubGenerator{values: []float32{1}}, ReasonUndecodable, ResultError, ClassInvalid, ErrInvalidImage},
		{"too small", testImage(t, 299, 400, 1), seenSet{}, oneFace(99), &stubGenerator{values: []float32{1}}, ReasonTooSmall, ResultError, ClassInvalid, ErrInvalidImage},
		{"no face", good, seenSet{}, &stubDetector{}, &stubGenerator{values: []float32{1}}, ReasonNoFace, ResultError, ClassInvalid, ErrInvalidImage},
		{"multiple faces", good, seenSet{}, twoFaces, &stubGenerator{values: []float32{1}}, ReasonMultipleFaces, ResultError, ClassInvalid, ErrInvalidImage},
		{"low quality", good, seenSet{}, oneFace(89.99), &stubGenerator{values: []float32{1}}, ReasonLowQuality, ResultError, ClassInvalid, ErrInvalidImage},
		{"detector unavailable", good, seenSet{}, &stubDetector{err: ErrModelUnavailable}, &stubGenerator{values: []float32{1}}, ReasonModelUnavailable, ResultError, ClassUnavailable, ErrModelUnavailable},
		{"embedder unavailable", good, seenSet{}, oneFace(99), &stubGenerator{err: ErrModelUnavailable}, ReasonModelUnavailable, ResultError, ClassUnavailable, ErrModelUnavailable},
		{"embedder failure", good, seenSet{}, oneFace(99), &stubGenerator{err: errBoom}, ReasonProcessingFailed, ResultError, ClassUnavailable, errBoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewGate(GateConfig{}, tt.detector, tt.gen).Screen(context.Background(), tt.seen, tt.data)
			assert.False(t, o.Accepted)
			assert.Equal(t, tt.reason, o.Reason)
			assert.Equal(t, tt.result, o.Result())
			assert.Equal(t, tt.class, o.Reason.Class())
			assert.ErrorIs(t, o.Err, tt.sentinel)
			assert.NotEmpty(t, o.Message())
		})
	}
}

func TestGateQualityBoundary(t *testing.T) {
	data := testImage(t, 300, 300, 2)

	o := NewGate(GateConfig{MinQuality: 90}, oneFace(90), &stubGenerator{values: []float32{1}}).Screen(context.Background(), nil, data)
	assert.True(t, o.Accepted, "score equal to the minimum is accepted")

	o = NewGate(GateConfig{MinQuality: 90}, oneFace(89), &stubGenerator{values: []float32{1}}).Screen(context.Background(), nil, data)
	assert.Equal(t, ReasonLowQuality, o.Reason)
}

func TestGateStopsAtFirstFailure(t *testing.T) {
	det := oneFace(99)
	gen := &stubGenerator{values: []float32{1}}
	g := NewGate(GateConfig{}, det, gen)

	o := g.Screen(context.Background(), nil, testImage(t, 100, 100, 1))
	assert.Equal(t, ReasonTooSmall, o.Reason)
	assert.Zero(t, det.calls)
	assert.Zero(t, gen.calls)

	o = NewGate(GateConfig{}, oneFace(10), gen).Screen(context.Background(), nil, testImage(t, 300, 300, 1))
	assert.Equal(t, ReasonLowQuality, o.Reason)
	assert.Zero(t, gen.calls)
}

func TestQualityScore(t *testing.T) {
	assert.InDelta(t, 100, QualityScore(1, 1000), 1e-9)
	assert.InDelta(t, 70, QualityScore(1, 0), 1e-9)
	assert.InDelta(t, 0.7*90+0.3*50, QualityScore(0.9, 500), 1e-9)
	assert.InDelta(t, 100, QualityScore(1.5, 5000), 1e-9)
}

func TestRejectReasonText(t *testing.T) {
	assert.Equal(t, "no face detected", ReasonNoFace.String())
	assert.Equal(t, "multiple_faces", ReasonMultipleFaces.Code())
	assert.Equal(t, ClassInvalid, ReasonTooSmall.Class())
}
