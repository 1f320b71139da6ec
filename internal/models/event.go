package models

import (
	"time"

	"github.com/google/uuid"
)

type IdentityEventType string

const (
	EventFaceLogin   IdentityEventType = "face_login"
	EventFaceEnroll  IdentityEventType = "face_enroll"
	EventFaceRemoved IdentityEventType = "face_removed"
)

// IdentityEvent is the message published to NATS after a face login or
// enrollment change. The audit worker turns it into an AccessLog row.
type IdentityEvent struct {
	Type       IdentityEventType `json:"type"`
	UserID     uuid.UUID         `json:"user_id"`
	TemplateID *uuid.UUID        `json:"template_id,omitempty"`
	BatchID    string            `json:"batch_id,omitempty"`
	Distance   float64           `json:"distance,omitempty"`
	Quality    float32           `json:"quality,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type AccessLog struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	UserID    uuid.UUID         `json:"user_id" db:"user_id"`
	Type      IdentityEventType `json:"type" db:"type"`
	Location  string            `json:"location" db:"location"`
	IPAddress string            `json:"ip_address" db:"ip_address"`
	UserAgent string            `json:"user_agent" db:"user_agent"`
	Distance  float64           `json:"distance" db:"distance"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
