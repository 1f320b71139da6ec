package identity

import (
	"context"
	"image"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/imaging"
	"github.com/your-org/faceid/internal/models"
)

// TemplateStore persists enrolled face templates. Templates are never
// updated in place.
type TemplateStore interface {
	// Add stores a new template. It returns ErrOwnerNotFound when ownerID
	// does not reference an existing user.
	Add(ctx context.Context, ownerID uuid.UUID, embedding Embedding, quality float32, sourceRef string) (*models.FaceTemplate, error)
	// ListAll returns every template ordered by creation time, then id.
	ListAll(ctx context.Context) ([]models.FaceTemplate, error)
	ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.FaceTemplate, error)
	// Delete removes a template. Deleting a missing template is not an error.
	Delete(ctx context.Context, templateID uuid.UUID) error
}

type OwnerDirectory interface {
	OwnerExists(ctx context.Context, ownerID uuid.UUID) (bool, error)
}

// Face is one detected face. Confidence is the raw detector output in
// [0, 1]; Score is the 0-100 enrollment quality derived from it.
type Face struct {
	Box        [4]float32
	Confidence float32
	Score      float64
}

type DetectionReport struct {
	Faces []Face
}

func (r DetectionReport) Count() int { return len(r.Faces) }

// Best returns the face with the highest detector confidence.
func (r DetectionReport) Best() (Face, bool) {
	if len(r.Faces) == 0 {
		return Face{}, false
	}
	best := r.Faces[0]
	for _, f := range r.Faces[1:] {
		if f.Confidence > best.Confidence {
			best = f
		}
	}
	return best, true
}

type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) (DetectionReport, error)
}

// Model is a loaded embedding network. Infer takes a tensor laid out as
// Layout() for an InputSize() crop and returns the raw embedding.
type Model interface {
	InputSize() (width, height int)
	Layout() imaging.Layout
	Infer(input []float32) ([]float32, error)
}

// Generator turns a cropped face into an embedding.
type Generator interface {
	Generate(ctx context.Context, face image.Image) (Embedding, error)
}

type EventPublisher interface {
	PublishIdentityEvent(ctx context.Context, event models.IdentityEvent) error
}

// ProgressSink receives per-image enrollment progress.
type ProgressSink interface {
	EnrollmentProgress(p Progress)
}

// ObjectSink stores full source images for the object source ref mode.
type ObjectSink interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}
