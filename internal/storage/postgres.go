package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, email, display_name) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		u.ID, u.Username, u.Email, u.DisplayName,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u := &models.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, display_name, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) OwnerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Face templates ---

func (s *PostgresStore) Add(ctx context.Context, ownerID uuid.UUID, embedding identity.Embedding, quality float32, sourceRef string) (*models.FaceTemplate, error) {
	t := &models.FaceTemplate{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Embedding: embedding.Values(),
		Quality:   quality,
		SourceRef: sourceRef,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_templates (id, owner_id, embedding, quality, source_ref) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		t.ID, t.OwnerID, pgvector.NewVector(t.Embedding), t.Quality, t.SourceRef,
	).Scan(&t.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, identity.ErrOwnerNotFound
		}
		return nil, fmt.Errorf("add face template: %w", err)
	}
	return t, nil
}

const templateColumns = `id, owner_id, embedding, quality, source_ref, created_at`

func scanTemplate(row pgx.Row) (models.FaceTemplate, error) {
	var (
		t   models.FaceTemplate
		vec pgvector.Vector
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &vec, &t.Quality, &t.SourceRef, &t.CreatedAt); err != nil {
		return t, err
	}
	t.Embedding = vec.Slice()
	return t, nil
}

func (s *PostgresStore) queryTemplates(ctx context.Context, query string, args ...any) ([]models.FaceTemplate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list face templates: %w", err)
	}
	defer rows.Close()

	var templates []models.FaceTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list face templates: %w", err)
	}
	return templates, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.FaceTemplate, error) {
	return s.queryTemplates(ctx,
		`SELECT `+templateColumns+` FROM face_templates ORDER BY created_at, id`)
}

func (s *PostgresStore) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]models.FaceTemplate, error) {
	return s.queryTemplates(ctx,
		`SELECT `+templateColumns+` FROM face_templates WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id uuid.UUID) (*models.FaceTemplate, error) {
	t, err := scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM face_templates WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get face template: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) CountTemplates(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_templates WHERE owner_id = $1`, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count face templates: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Delete(ctx context.Context, templateID uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM face_templates WHERE id = $1`, templateID); err != nil {
		return fmt.Errorf("delete face template: %w", err)
	}
	return nil
}

// --- Access logs ---

func (s *PostgresStore) CreateAccessLog(ctx context.Context, l *models.AccessLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO access_logs (id, user_id, type, location, ip_address, user_agent, distance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, now())) RETURNING created_at`,
		l.ID, l.UserID, l.Type, l.Location, l.IPAddress, l.UserAgent, l.Distance, nullTime(l.CreatedAt),
	).Scan(&l.CreatedAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return identity.ErrOwnerNotFound
		}
		return fmt.Errorf("create access log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccessLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.AccessLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, location, ip_address, user_agent, distance, created_at
		 FROM access_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list access logs: %w", err)
	}
	defer rows.Close()

	var logs []models.AccessLog
	for rows.Next() {
		var l models.AccessLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Type, &l.Location, &l.IPAddress, &l.UserAgent, &l.Distance, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
