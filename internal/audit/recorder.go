// Package audit turns identity events from the IDENTITY stream into
// access log rows.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/queue"
)

// LogWriter persists access logs.
type LogWriter interface {
	CreateAccessLog(ctx context.Context, l *models.AccessLog) error
}

type Recorder struct {
	logs LogWriter
}

func NewRecorder(logs LogWriter) *Recorder {
	return &Recorder{logs: logs}
}

// Handle stores one event. Events for users that no longer exist are
// dropped, other write failures are returned so the message is redelivered.
func (r *Recorder) Handle(ctx context.Context, evt models.IdentityEvent) error {
	entry := &models.AccessLog{
		UserID:    evt.UserID,
		Type:      evt.Type,
		Location:  queue.SubjectFor(evt.Type),
		IPAddress: evt.IPAddress,
		UserAgent: evt.UserAgent,
		Distance:  evt.Distance,
		CreatedAt: evt.Timestamp,
	}

	err := r.logs.CreateAccessLog(ctx, entry)
	switch {
	case err == nil:
		observability.AuditRecords.WithLabelValues(string(evt.Type), "stored").Inc()
		return nil
	case errors.Is(err, identity.ErrOwnerNotFound):
		observability.AuditRecords.WithLabelValues(string(evt.Type), "orphaned").Inc()
		slog.Debug("drop event for unknown user", "type", evt.Type, "user_id", evt.UserID)
		return nil
	default:
		observability.AuditRecords.WithLabelValues(string(evt.Type), "failed").Inc()
		return fmt.Errorf("store access log: %w", err)
	}
}
