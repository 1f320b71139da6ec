package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
)

var ErrUserExists = errors.New("username or email already taken")

// Store is the persistence surface shared by the API and the audit worker.
// Get methods return nil, nil when the row does not exist.
type Store interface {
	identity.TemplateStore
	identity.OwnerDirectory

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// DeleteUser removes the user and, by cascade, its templates and access
	// logs. It reports whether a user was deleted.
	DeleteUser(ctx context.Context, id uuid.UUID) (bool, error)

	GetTemplate(ctx context.Context, id uuid.UUID) (*models.FaceTemplate, error)
	CountTemplates(ctx context.Context, ownerID uuid.UUID) (int, error)

	CreateAccessLog(ctx context.Context, l *models.AccessLog) error
	ListAccessLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AccessLog, error)

	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
