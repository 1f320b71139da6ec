package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/pkg/dto"
)

// ObjectPurger removes every stored source image of an owner.
type ObjectPurger interface {
	PurgeOwner(ctx context.Context, ownerID string) (int, error)
}

type UserHandler struct {
	db     storage.Store
	purger ObjectPurger
	events identity.EventPublisher
}

func NewUserHandler(db storage.Store, purger ObjectPurger, events identity.EventPublisher) *UserHandler {
	return &UserHandler{db: db, purger: purger, events: events}
}

func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u := &models.User{Username: req.Username, Email: req.Email, DisplayName: req.DisplayName}
	if err := h.db.CreateUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toUserResponse(u, 0))
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid user id")
	if !ok {
		return
	}

	u, err := h.db.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	count, err := h.db.CountTemplates(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUserResponse(u, count))
}

// Delete removes the user, its templates and any stored source images.
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid user id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	deleted, err := h.db.DeleteUser(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if h.purger != nil {
		n, err := h.purger.PurgeOwner(ctx, id.String())
		if err != nil {
			slog.Warn("purge source images", "owner_id", id, "error", err)
		} else if n > 0 {
			slog.Info("purged source images", "owner_id", id, "count", n)
		}
	}

	publish(ctx, h.events, models.IdentityEvent{
		Type:      models.EventFaceRemoved,
		UserID:    id,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Timestamp: now(),
	})

	c.Status(http.StatusNoContent)
}
