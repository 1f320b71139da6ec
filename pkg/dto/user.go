package dto

import "github.com/google/uuid"

type CreateUserRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"display_name"`
}

type UserResponse struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	FaceCount   int       `json:"face_count"`
	CreatedAt   string    `json:"created_at"`
}

type FaceResponse struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Quality   float32   `json:"quality"`
	SourceRef string    `json:"source_ref,omitempty"`
	CreatedAt string    `json:"created_at"`
}

type FaceListResponse struct {
	Faces []FaceResponse `json:"faces"`
	Total int            `json:"total"`
}

type AccessLogResponse struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Location  string    `json:"location,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Distance  float64   `json:"distance,omitempty"`
	CreatedAt string    `json:"created_at"`
}
