package dto

import "github.com/google/uuid"

// EnrollmentItem reports the outcome for one uploaded image.
type EnrollmentItem struct {
	Index      int        `json:"index"`
	Filename   string     `json:"filename,omitempty"`
	Result     string     `json:"result"` // success, duplicate, error
	Reason     string     `json:"reason,omitempty"`
	ReasonCode string     `json:"reason_code,omitempty"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	Quality    float64    `json:"quality,omitempty"`
}

type EnrollmentTally struct {
	Success   int `json:"success"`
	Duplicate int `json:"duplicate"`
	Error     int `json:"error"`
	Total     int `json:"total"`
}

type EnrollmentResponse struct {
	BatchID string           `json:"batch_id"`
	OwnerID uuid.UUID        `json:"owner_id"`
	Items   []EnrollmentItem `json:"items"`
	Tally   EnrollmentTally  `json:"tally"`
}

type BatchStatusResponse struct {
	BatchID   string          `json:"batch_id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Tally     EnrollmentTally `json:"tally"`
	UpdatedAt string          `json:"updated_at"`
}

type DetectedFace struct {
	Box        [4]float32 `json:"box"`
	Confidence float32    `json:"confidence"`
	Quality    float64    `json:"quality"`
}

type DetectResponse struct {
	Faces []DetectedFace `json:"faces"`
	Count int            `json:"count"`
}

// EmbeddingPreviewResponse carries a preview vector. Synthetic vectors come
// from the degraded generator and are never stored or matched.
type EmbeddingPreviewResponse struct {
	Embedding []float32 `json:"embedding"`
	Dim       int       `json:"dim"`
	Synthetic bool      `json:"synthetic"`
	FaceCount int       `json:"face_count"`
	Quality   float64   `json:"quality"`
}

type CompareResponse struct {
	Distance          float64 `json:"distance"`
	Similarity        float64 `json:"similarity"`
	Same              bool    `json:"same"`
	DimensionMismatch bool    `json:"dimension_mismatch"`
	Compared          int     `json:"compared"`
}

type FaceLoginResponse struct {
	Token      string       `json:"token"`
	ExpiresAt  string       `json:"expires_at"`
	User       UserResponse `json:"user"`
	TemplateID uuid.UUID    `json:"template_id"`
	Distance   float64      `json:"distance"`
	Confidence float64      `json:"confidence"`
}

// WSEvent is a WebSocket message for real-time enrollment and login updates.
type WSEvent struct {
	Type    string    `json:"type"` // enrollment_progress, face_login
	OwnerID uuid.UUID `json:"owner_id"`
	BatchID string    `json:"batch_id,omitempty"`
	Data    any       `json:"data,omitempty"`
}

type EnrollmentProgress struct {
	Index int             `json:"index"`
	Total int             `json:"total"`
	Item  EnrollmentItem  `json:"item"`
	Tally EnrollmentTally `json:"tally"`
}
