package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/your-org/faceid/internal/imaging"
)

const (
	DefaultMinWidth    = 300
	DefaultMinHeight   = 300
	DefaultMinQuality  = 90
	DefaultFacePadding = 0.1
)

type RejectClass string

const (
	ClassDuplicate   RejectClass = "duplicate"
	ClassInvalid     RejectClass = "invalid"
	ClassUnavailable RejectClass = "unavailable"
)

type RejectReason int

const (
	ReasonNone RejectReason = iota
	ReasonDuplicate
	ReasonUndecodable
	ReasonTooSmall
	ReasonNoFace
	ReasonMultipleFaces
	ReasonLowQuality
	ReasonModelUnavailable
	ReasonProcessingFailed
)

var reasonText = map[RejectReason]string{
	ReasonNone:             "",
	ReasonDuplicate:        "duplicate image",
	ReasonUndecodable:      "image could not be decoded",
	ReasonTooSmall:         "image too small",
	ReasonNoFace:           "no face detected",
	ReasonMultipleFaces:    "multiple faces detected",
	ReasonLowQuality:       "low quality",
	ReasonModelUnavailable: "model unavailable",
	ReasonProcessingFailed: "processing failed",
}

var reasonCode = map[RejectReason]string{
	ReasonNone:             "none",
	ReasonDuplicate:        "duplicate",
	ReasonUndecodable:      "undecodable",
	ReasonTooSmall:         "too_small",
	ReasonNoFace:           "no_face",
	ReasonMultipleFaces:    "multiple_faces",
	ReasonLowQuality:       "low_quality",
	ReasonModelUnavailable: "model_unavailable",
	ReasonProcessingFailed: "processing_failed",
}

func (r RejectReason) String() string { return reasonText[r] }

// Code is a stable machine-readable name used in metrics and API payloads.
func (r RejectReason) Code() string { return reasonCode[r] }

func (r RejectReason) Class() RejectClass {
	switch r {
	case ReasonDuplicate:
		return ClassDuplicate
	case ReasonModelUnavailable, ReasonProcessingFailed:
		return ClassUnavailable
	default:
		return ClassInvalid
	}
}

// Outcome is the terminal state of screening one image.
type Outcome struct {
	Accepted  bool
	Reason    RejectReason
	Err       error
	Embedding Embedding
	Quality   float64
	Digest    string
	Format    string
	Width     int
	Height    int
}

// Result maps the outcome onto the batch tally buckets.
func (o Outcome) Result() Result {
	switch {
	case o.Accepted:
		return ResultSuccess
	case o.Reason == ReasonDuplicate:
		return ResultDuplicate
	default:
		return ResultError
	}
}

// Message is the human-readable rejection text, empty on accept.
func (o Outcome) Message() string {
	if o.Accepted {
		return ""
	}
	if o.Err != nil && o.Reason == ReasonProcessingFailed {
		return fmt.Sprintf("%s: %v", o.Reason, o.Err)
	}
	return o.Reason.String()
}

// BatchView answers whether an image digest was already accepted in the
// current enrollment batch.
type BatchView interface {
	Seen(ctx context.Context, digest string) (bool, error)
}

type GateConfig struct {
	MinWidth    int
	MinHeight   int
	MinQuality  float64
	FacePadding float32
}

// Gate screens enrollment images. Checks run in a fixed order and the first
// failing check decides the rejection reason.
type Gate struct {
	cfg       GateConfig
	detector  FaceDetector
	generator Generator
}

func NewGate(cfg GateConfig, detector FaceDetector, generator Generator) *Gate {
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = DefaultMinWidth
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = DefaultMinHeight
	}
	if cfg.MinQuality <= 0 {
		cfg.MinQuality = DefaultMinQuality
	}
	if cfg.FacePadding <= 0 {
		cfg.FacePadding = DefaultFacePadding
	}
	return &Gate{cfg: cfg, detector: detector, generator: generator}
}

// Digest is the hex SHA-256 of the raw image bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func reject(o Outcome, reason RejectReason, err error) Outcome {
	o.Reason = reason
	o.Err = err
	return o
}

func (g *Gate) Screen(ctx context.Context, batch BatchView, data []byte) Outcome {
	o := Outcome{Digest: Digest(data)}

	if batch != nil {
		seen, err := batch.Seen(ctx, o.Digest)
		if err != nil {
			return reject(o, ReasonProcessingFailed, fmt.Errorf("check batch ledger: %w", err))
		}
		if seen {
			return reject(o, ReasonDuplicate, ErrDuplicateImage)
		}
	}

	img, format, err := imaging.Decode(data)
	if err != nil {
		return reject(o, ReasonUndecodable, fmt.Errorf("%w: %v", ErrInvalidImage, err))
	}
	o.Format = format
	o.Width, o.Height = img.Bounds().Dx(), img.Bounds().Dy()

	if o.Width < g.cfg.MinWidth || o.Height < g.cfg.MinHeight {
		return reject(o, ReasonTooSmall, fmt.Errorf("%w: %dx%d below %dx%d",
			ErrInvalidImage, o.Width, o.Height, g.cfg.MinWidth, g.cfg.MinHeight))
	}

	report, err := g.detector.Detect(ctx, img)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return reject(o, ReasonModelUnavailable, err)
		}
		return reject(o, ReasonProcessingFailed, fmt.Errorf("detect faces: %w", err))
	}
	switch report.Count() {
	case 0:
		return reject(o, ReasonNoFace, ErrInvalidImage)
	case 1:
	default:
		return reject(o, ReasonMultipleFaces, ErrInvalidImage)
	}

	face := report.Faces[0]
	o.Quality = face.Score
	if face.Score < g.cfg.MinQuality {
		return reject(o, ReasonLowQuality, fmt.Errorf("%w: quality %.1f below %.1f",
			ErrInvalidImage, face.Score, g.cfg.MinQuality))
	}

	crop := imaging.CropFace(img, face.Box, g.cfg.FacePadding)
	if crop == nil {
		return reject(o, ReasonNoFace, ErrInvalidImage)
	}

	emb, err := g.generator.Generate(ctx, crop)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return reject(o, ReasonModelUnavailable, err)
		}
		return reject(o, ReasonProcessingFailed, err)
	}

	o.Accepted = true
	o.Embedding = emb
	return o
}

// QualityScore blends detector confidence (0-1) with Laplacian sharpness
// into a 0-100 score: 0.7*confidence*100 + 0.3*min(100, sharpness/10).
func QualityScore(confidence float32, sharpness float64) float64 {
	conf := math.Min(1, math.Max(0, float64(confidence)))
	sharp := math.Min(100, math.Max(0, sharpness/10))
	return 0.7*conf*100 + 0.3*sharp
}
