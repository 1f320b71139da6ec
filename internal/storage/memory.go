package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
)

// MemoryStore keeps users, templates and access logs in process. It backs
// the "memory" database driver and handler tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]models.User
	templates map[uuid.UUID]models.FaceTemplate
	logs      []models.AccessLog
	now       func() time.Time
	last      time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uuid.UUID]models.User),
		templates: make(map[uuid.UUID]models.FaceTemplate),
		now:       time.Now,
	}
}

// stamp returns a strictly increasing timestamp so creation order is stable.
func (s *MemoryStore) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return ErrUserExists
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = s.stamp()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) OwnerExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return false, nil
	}
	delete(s.users, id)
	for tid, t := range s.templates {
		if t.OwnerID == id {
			delete(s.templates, tid)
		}
	}
	kept := s.logs[:0]
	for _, l := range s.logs {
		if l.UserID != id {
			kept = append(kept, l)
		}
	}
	s.logs = kept
	return true, nil
}

func (s *MemoryStore) Add(_ context.Context, ownerID uuid.UUID, embedding identity.Embedding, quality float32, sourceRef string) (*models.FaceTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[ownerID]; !ok {
		return nil, identity.ErrOwnerNotFound
	}
	t := models.FaceTemplate{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Embedding: embedding.Values(),
		Quality:   quality,
		SourceRef: sourceRef,
		CreatedAt: s.stamp(),
	}
	s.templates[t.ID] = t
	return &t, nil
}

func (s *MemoryStore) sorted(keep func(models.FaceTemplate) bool) []models.FaceTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FaceTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *MemoryStore) ListAll(context.Context) ([]models.FaceTemplate, error) {
	return s.sorted(func(models.FaceTemplate) bool { return true }), nil
}

func (s *MemoryStore) ListForOwner(_ context.Context, ownerID uuid.UUID) ([]models.FaceTemplate, error) {
	return s.sorted(func(t models.FaceTemplate) bool { return t.OwnerID == ownerID }), nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id uuid.UUID) (*models.FaceTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) CountTemplates(_ context.Context, ownerID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.templates {
		if t.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Delete(_ context.Context, templateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.templates, templateID)
	return nil
}

func (s *MemoryStore) CreateAccessLog(_ context.Context, l *models.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[l.UserID]; !ok {
		return identity.ErrOwnerNotFound
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.stamp()
	}
	s.logs = append(s.logs, *l)
	return nil
}

func (s *MemoryStore) ListAccessLogs(_ context.Context, userID uuid.UUID, limit int) ([]models.AccessLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AccessLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].UserID == userID {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}
