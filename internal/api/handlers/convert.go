package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/pkg/dto"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Broadcaster delivers realtime events to WebSocket clients.
type Broadcaster interface {
	BroadcastEvent(event *dto.WSEvent)
}

// ProgressRelay forwards enrollment progress to a Broadcaster.
type ProgressRelay struct {
	out Broadcaster
}

func NewProgressRelay(out Broadcaster) *ProgressRelay {
	return &ProgressRelay{out: out}
}

func (r *ProgressRelay) EnrollmentProgress(p identity.Progress) {
	r.out.BroadcastEvent(&dto.WSEvent{
		Type:    "enrollment_progress",
		OwnerID: p.OwnerID,
		BatchID: p.BatchID,
		Data: dto.EnrollmentProgress{
			Index: p.Index,
			Total: p.Total,
			Item:  toEnrollmentItem(p.Item),
			Tally: toTally(p.Tally),
		},
	})
}

func publish(ctx context.Context, events identity.EventPublisher, evt models.IdentityEvent) {
	if events == nil {
		return
	}
	if err := events.PublishIdentityEvent(ctx, evt); err != nil {
		slog.Warn("publish identity event", "type", evt.Type, "user_id", evt.UserID, "error", err)
	}
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func toUserResponse(u *models.User, faceCount int) dto.UserResponse {
	return dto.UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		FaceCount:   faceCount,
		CreatedAt:   u.CreatedAt.UTC().Format(timeLayout),
	}
}

func toFaceResponse(t models.FaceTemplate) dto.FaceResponse {
	return dto.FaceResponse{
		ID:        t.ID,
		OwnerID:   t.OwnerID,
		Quality:   t.Quality,
		SourceRef: t.SourceRef,
		CreatedAt: t.CreatedAt.UTC().Format(timeLayout),
	}
}

func toFaceList(templates []models.FaceTemplate) dto.FaceListResponse {
	faces := make([]dto.FaceResponse, 0, len(templates))
	for _, t := range templates {
		faces = append(faces, toFaceResponse(t))
	}
	return dto.FaceListResponse{Faces: faces, Total: len(faces)}
}

func toEnrollmentItem(r identity.ImageReport) dto.EnrollmentItem {
	return dto.EnrollmentItem{
		Index:      r.Index,
		Filename:   r.Name,
		Result:     string(r.Result),
		Reason:     r.Reason,
		ReasonCode: r.ReasonCode,
		TemplateID: r.TemplateID,
		Quality:    r.Quality,
	}
}

func toTally(t identity.Tally) dto.EnrollmentTally {
	return dto.EnrollmentTally{
		Success:   t.Success,
		Duplicate: t.Duplicate,
		Error:     t.Error,
		Total:     t.Total(),
	}
}

func toEnrollmentResponse(r identity.BatchReport) dto.EnrollmentResponse {
	items := make([]dto.EnrollmentItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, toEnrollmentItem(it))
	}
	return dto.EnrollmentResponse{
		BatchID: r.BatchID,
		OwnerID: r.OwnerID,
		Items:   items,
		Tally:   toTally(r.Tally),
	}
}

func toAccessLogResponse(l models.AccessLog) dto.AccessLogResponse {
	return dto.AccessLogResponse{
		ID:        l.ID,
		Type:      string(l.Type),
		Location:  l.Location,
		IPAddress: l.IPAddress,
		UserAgent: l.UserAgent,
		Distance:  l.Distance,
		CreatedAt: l.CreatedAt.UTC().Format(timeLayout),
	}
}

func now() time.Time { return time.Now().UTC() }

// readImages returns one image per field, either from multipart file parts
// or from a JSON object of base64 strings (data URLs accepted).
func readImages(c *gin.Context, fields ...string) ([][]byte, error) {
	out := make([][]byte, 0, len(fields))

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		for _, field := range fields {
			fh, err := c.FormFile(field)
			if err != nil {
				return nil, fmt.Errorf("%s file required", field)
			}
			data, err := readFile(fh)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", field, err)
			}
			out = append(out, data)
		}
		return out, nil
	}

	var body map[string]string
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, fmt.Errorf("multipart form or JSON body required")
	}
	for _, field := range fields {
		data, err := decodeDataURL(body[field])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func decodeDataURL(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("image required")
	}
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image")
	}
	return data, nil
}
