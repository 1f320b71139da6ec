package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FaceTemplate is one enrolled face embedding. Templates are never updated;
// corrections are a delete followed by a new enrollment.
type FaceTemplate struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Embedding []float32 `json:"-" db:"embedding"`
	Quality   float32   `json:"quality" db:"quality"`
	SourceRef string    `json:"source_ref" db:"source_ref"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
