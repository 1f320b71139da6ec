package vision

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/imaging"
)

// EmbedderConfig describes the tensors of an embedding model export.
type EmbedderConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	InputSize  int
	Layout     imaging.Layout
	Dim        int
}

// Embedder runs a face embedding ONNX model (FaceNet or ArcFace style).
// Runs are serialised because the session is bound to a single pair of
// input/output tensors.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	size         int
	layout       imaging.Layout
	dim          int
}

// NewEmbedder loads the embedding model.
func NewEmbedder(cfg EmbedderConfig, opts *ort.SessionOptions) (*Embedder, error) {
	if cfg.InputSize <= 0 || cfg.Dim <= 0 {
		return nil, fmt.Errorf("invalid embedder shape: size %d, dim %d", cfg.InputSize, cfg.Dim)
	}

	s := int64(cfg.InputSize)
	inputShape := ort.NewShape(1, 3, s, s)
	if cfg.Layout == imaging.LayoutNHWC {
		inputShape = ort.NewShape(1, s, s, 3)
	}
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		size:         cfg.InputSize,
		layout:       cfg.Layout,
		dim:          cfg.Dim,
	}, nil
}

func (e *Embedder) InputSize() (int, int) { return e.size, e.size }

func (e *Embedder) Layout() imaging.Layout { return e.layout }

func (e *Embedder) EmbeddingDim() int { return e.dim }

// Infer runs the model on a preprocessed crop and returns the raw output.
func (e *Embedder) Infer(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	dst := e.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	out := make([]float32, e.dim)
	copy(out, e.outputTensor.GetData())
	return out, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
