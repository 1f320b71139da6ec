package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/pkg/dto"
)

// ObjectReader fetches a stored source image by key.
type ObjectReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type FaceHandler struct {
	db        storage.Store
	enroller  *identity.Enroller
	ledger    identity.BatchLedger
	refs      identity.SourceRefs
	objects   ObjectReader
	events    identity.EventPublisher
	maxImages int
}

type FaceHandlerConfig struct {
	DB        storage.Store
	Enroller  *identity.Enroller
	Ledger    identity.BatchLedger
	Refs      identity.SourceRefs
	Objects   ObjectReader
	Events    identity.EventPublisher
	MaxImages int
}

func NewFaceHandler(cfg FaceHandlerConfig) *FaceHandler {
	return &FaceHandler{
		db:        cfg.DB,
		enroller:  cfg.Enroller,
		ledger:    cfg.Ledger,
		refs:      cfg.Refs,
		objects:   cfg.Objects,
		events:    cfg.Events,
		maxImages: cfg.MaxImages,
	}
}

// Enroll accepts one or more multipart "image" files and runs them through
// the quality gate as one batch. Per-image outcomes are in the response
// body; the status is 200 whenever the batch ran to completion. A model
// outage stops the batch with 503 so the client can resubmit.
func (h *FaceHandler) Enroll(c *gin.Context) {
	ownerID, ok := parseID(c, "id", "invalid user id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["image"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	if h.maxImages > 0 && len(files) > h.maxImages {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d images per request", h.maxImages)})
		return
	}

	images := make([]identity.ImageInput, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
			return
		}
		images = append(images, identity.ImageInput{Name: fh.Filename, Data: data})
	}

	report, err := h.enroller.Enroll(c.Request.Context(), identity.EnrollRequest{
		OwnerID: ownerID,
		BatchID: c.PostForm("batch_id"),
		Images:  images,
		Meta: identity.RequestMeta{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toEnrollmentResponse(report))
}

func (h *FaceHandler) List(c *gin.Context) {
	ownerID, ok := parseID(c, "id", "invalid user id")
	if !ok {
		return
	}
	h.listFor(c, ownerID)
}

func (h *FaceHandler) Delete(c *gin.Context) {
	ownerID, ok := parseID(c, "id", "invalid user id")
	if !ok {
		return
	}
	h.deleteFor(c, ownerID)
}

// Source streams the stored source image of a template. Only templates
// enrolled with object source refs have one.
func (h *FaceHandler) Source(c *gin.Context) {
	ownerID, ok := parseID(c, "id", "invalid user id")
	if !ok {
		return
	}
	faceID, ok := parseID(c, "faceId", "invalid face id")
	if !ok {
		return
	}

	t, err := h.db.GetTemplate(c.Request.Context(), faceID)
	if err != nil {
		respondError(c, err)
		return
	}
	if t == nil || t.OwnerID != ownerID {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	}
	if h.objects == nil || !identity.IsObjectRef(t.SourceRef) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source image not stored"})
		return
	}

	data, err := h.objects.GetObject(c.Request.Context(), t.SourceRef)
	if errors.Is(err, storage.ErrObjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "source image not found"})
		return
	}
	if err != nil {
		slog.Error("get source image", "face_id", faceID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "source image unavailable"})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// BatchStatus returns the running tally of an enrollment batch.
func (h *FaceHandler) BatchStatus(c *gin.Context) {
	batchID := c.Param("batchId")

	st, err := h.ledger.Status(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found or expired"})
		return
	}

	c.JSON(http.StatusOK, dto.BatchStatusResponse{
		BatchID:   st.BatchID,
		OwnerID:   st.OwnerID,
		Tally:     toTally(st.Tally),
		UpdatedAt: st.UpdatedAt.UTC().Format(timeLayout),
	})
}

// ListMine lists the templates of the authenticated user.
func (h *FaceHandler) ListMine(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	h.listFor(c, userID)
}

// DeleteMine deletes one template of the authenticated user.
func (h *FaceHandler) DeleteMine(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	h.deleteFor(c, userID)
}

// AccessLogs lists recent login and enrollment activity of the
// authenticated user, newest first.
func (h *FaceHandler) AccessLogs(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	logs, err := h.db.ListAccessLogs(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.AccessLogResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, toAccessLogResponse(l))
	}
	c.JSON(http.StatusOK, gin.H{"access_logs": resp, "total": len(resp)})
}

func (h *FaceHandler) listFor(c *gin.Context, ownerID uuid.UUID) {
	ctx := c.Request.Context()

	u, err := h.db.GetUser(ctx, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	templates, err := h.db.ListForOwner(ctx, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toFaceList(templates))
}

func (h *FaceHandler) deleteFor(c *gin.Context, ownerID uuid.UUID) {
	faceID, ok := parseID(c, "faceId", "invalid face id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	t, err := h.db.GetTemplate(ctx, faceID)
	if err != nil {
		respondError(c, err)
		return
	}
	if t == nil || t.OwnerID != ownerID {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	}

	if err := h.db.Delete(ctx, faceID); err != nil {
		respondError(c, err)
		return
	}
	if err := h.refs.Release(ctx, t.SourceRef); err != nil {
		slog.Warn("release source image", "face_id", faceID, "error", err)
	}

	publish(ctx, h.events, models.IdentityEvent{
		Type:       models.EventFaceRemoved,
		UserID:     ownerID,
		TemplateID: &faceID,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Timestamp:  now(),
	})

	c.Status(http.StatusNoContent)
}
