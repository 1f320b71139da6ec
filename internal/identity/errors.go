package identity

import "errors"

var (
	// ErrModelUnavailable is returned when a model could not be loaded or an
	// inference did not finish within its deadline. Callers may retry later.
	ErrModelUnavailable = errors.New("model unavailable")

	ErrOwnerNotFound  = errors.New("owner not found")
	ErrInvalidImage   = errors.New("invalid image")
	ErrDuplicateImage = errors.New("duplicate image in batch")
	// ErrBatchOwnerMismatch is returned when a batch id is reused by an
	// owner other than the one that started it.
	ErrBatchOwnerMismatch = errors.New("batch belongs to another owner")

	ErrEmptyEmbedding    = errors.New("empty embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNonFinite         = errors.New("non-finite distance")
	ErrInvalidThreshold  = errors.New("invalid match threshold")
)
