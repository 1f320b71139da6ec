package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/imaging"
)

var (
	runtimeMu    sync.Mutex
	runtimeReady bool
)

// SharedLibraryPath returns the ONNX Runtime shared library name for the
// current platform.
func SharedLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ensureRuntime initialises the ONNX Runtime environment once. A failed
// initialisation is retried on the next call.
func ensureRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeReady {
		return nil
	}
	ort.SetSharedLibraryPath(SharedLibraryPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	runtimeReady = true
	return nil
}

// Shutdown destroys the ONNX Runtime environment if it was initialised.
func Shutdown() {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeReady {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
	runtimeReady = false
}

// Models holds the lazily loaded detector and embedder.
type Models struct {
	Detector *identity.Lazy[*Detector]
	Embedder *identity.Lazy[identity.Model]
}

// NewModels prepares lazy loaders for the configured models. Nothing is
// loaded until first use.
func NewModels(cfg config.VisionConfig) *Models {
	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectorModel)
	embCfg := EmbedderConfig{
		ModelPath:  filepath.Join(cfg.ModelsDir, cfg.EmbedderModel),
		InputName:  cfg.EmbedderInputName,
		OutputName: cfg.EmbedderOutputName,
		InputSize:  cfg.EmbedderInputSize,
		Layout:     imaging.Layout(cfg.EmbedderLayout),
		Dim:        cfg.EmbeddingDim,
	}

	return &Models{
		Detector: identity.NewLazy("detector", func(context.Context) (*Detector, error) {
			if err := ensureRuntime(); err != nil {
				return nil, err
			}
			slog.Info("loading detection model", "path", detPath)
			return NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
		}),
		Embedder: identity.NewLazy("embedder", func(context.Context) (identity.Model, error) {
			if err := ensureRuntime(); err != nil {
				return nil, err
			}
			slog.Info("loading embedding model", "path", embCfg.ModelPath, "dim", embCfg.Dim)
			emb, err := NewEmbedder(embCfg, nil)
			if err != nil {
				return nil, err
			}
			return emb, nil
		}),
	}
}

// Close releases loaded sessions.
func (m *Models) Close() {
	if det, ok := m.Detector.Peek(); ok {
		det.Close()
	}
	if emb, ok := m.Embedder.Peek(); ok {
		if e, ok := emb.(*Embedder); ok {
			e.Close()
		}
	}
}
