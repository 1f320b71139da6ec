package identity

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/imaging"
)

type fakeModel struct {
	out     []float32
	err     error
	block   chan struct{}
	lastLen int
}

func (m *fakeModel) InputSize() (int, int)   { return 4, 4 }
func (m *fakeModel) Layout() imaging.Layout { return imaging.LayoutNCHW }

func (m *fakeModel) Infer(input []float32) ([]float32, error) {
	m.lastLen = len(input)
	if m.block != nil {
		<-m.block
	}
	return append([]float32(nil), m.out...), m.err
}

func faceImage(w, h int, shade uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{shade, uint8(x * 7), uint8(y * 5), 255})
		}
	}
	return img
}

func TestLazyLoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	lazy := NewLazy("embedder", func(context.Context) (int, error) {
		loads.Add(1)
		<-release
		return 42, nil
	})
	assert.False(t, lazy.Loaded())

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := lazy.Get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.True(t, lazy.Loaded())

	_, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	var attempts atomic.Int32
	lazy := NewLazy("embedder", func(context.Context) (string, error) {
		if attempts.Add(1) == 1 {
			return "", errBoom
		}
		return "ok", nil
	})

	_, err := lazy.Get(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, lazy.Loaded())

	v, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestReadyIsLoaded(t *testing.T) {
	lazy := Ready("detector", 7)
	v, ok := lazy.Peek()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, "detector", lazy.Name())
}

func TestRealGeneratorNormalisesOutput(t *testing.T) {
	model := &fakeModel{out: []float32{3, 4}}
	gen := NewRealGenerator(Ready[Model]("embedder", model), imaging.NormArcFace, time.Second)

	emb, err := gen.Generate(context.Background(), faceImage(20, 20, 10))
	require.NoError(t, err)
	assert.Equal(t, 48, model.lastLen)

	v := emb.Values()
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestRealGeneratorModelUnavailable(t *testing.T) {
	lazy := NewLazy("embedder", func(context.Context) (Model, error) { return nil, errBoom })
	gen := NewRealGenerator(lazy, imaging.NormArcFace, time.Second)

	_, err := gen.Generate(context.Background(), faceImage(8, 8, 1))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRealGeneratorTimeout(t *testing.T) {
	model := &fakeModel{out: []float32{1}, block: make(chan struct{})}
	defer close(model.block)

	gen := NewRealGenerator(Ready[Model]("embedder", model), imaging.NormUnit, 20*time.Millisecond)
	_, err := gen.Generate(context.Background(), faceImage(8, 8, 1))
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRealGeneratorRejectsBadOutput(t *testing.T) {
	model := &fakeModel{out: []float32{float32(math.Inf(1))}}
	gen := NewRealGenerator(Ready[Model]("embedder", model), imaging.NormUnit, time.Second)
	_, err := gen.Generate(context.Background(), faceImage(8, 8, 1))
	assert.Error(t, err)

	model = &fakeModel{err: errBoom}
	gen = NewRealGenerator(Ready[Model]("embedder", model), imaging.NormUnit, time.Second)
	_, err = gen.Generate(context.Background(), faceImage(8, 8, 1))
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
}

func TestDegradedGeneratorDeterministic(t *testing.T) {
	g := DegradedGenerator{}
	a, err := g.Generate(context.Background(), faceImage(64, 64, 10))
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), faceImage(64, 64, 10))
	require.NoError(t, err)
	c, err := g.Generate(context.Background(), faceImage(64, 64, 200))
	require.NoError(t, err)

	assert.True(t, a.Synthetic())
	assert.Equal(t, DefaultEmbeddingDim, a.Len())
	assert.Equal(t, a.Values(), b.Values())
	assert.NotEqual(t, a.Values(), c.Values())

	var norm float64
	for _, v := range a.Values() {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1, norm, 1e-4)

	d, err := DegradedGenerator{Dim: 512}.Generate(context.Background(), faceImage(8, 8, 1))
	require.NoError(t, err)
	assert.Equal(t, 512, d.Len())
}

func TestPreviewerFallsBackToSynthetic(t *testing.T) {
	data := testImage(t, 320, 320, 3)

	real := &stubGenerator{err: ErrModelUnavailable}
	p := NewPreviewer(oneFace(95), real, &DegradedGenerator{})
	out, err := p.Preview(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, out.Synthetic)
	assert.Len(t, out.Values, DefaultEmbeddingDim)

	p = NewPreviewer(oneFace(95), real, nil)
	_, err = p.Preview(context.Background(), data)
	assert.ErrorIs(t, err, ErrModelUnavailable)

	p = NewPreviewer(&stubDetector{err: ErrModelUnavailable}, real, &DegradedGenerator{})
	out, err = p.Preview(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, out.Synthetic)
}

func TestPreviewerRealEmbedding(t *testing.T) {
	p := NewPreviewer(oneFace(95), &stubGenerator{values: []float32{1, 0}}, &DegradedGenerator{})
	out, err := p.Preview(context.Background(), testImage(t, 320, 320, 3))
	require.NoError(t, err)
	assert.False(t, out.Synthetic)
	assert.Equal(t, []float32{1, 0}, out.Values)
	assert.Equal(t, 1, out.FaceCount)
	assert.Equal(t, 95.0, out.Quality)

	_, err = p.Preview(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidImage)
}
