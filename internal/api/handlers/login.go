package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/pkg/dto"
)

type LoginHandler struct {
	verifier *identity.Verifier
	db       storage.Store
	issuer   *auth.TokenIssuer
	events   identity.EventPublisher
	out      Broadcaster
}

func NewLoginHandler(verifier *identity.Verifier, db storage.Store, issuer *auth.TokenIssuer, events identity.EventPublisher, out Broadcaster) *LoginHandler {
	return &LoginHandler{verifier: verifier, db: db, issuer: issuer, events: events, out: out}
}

// FaceLogin identifies the face in the uploaded image and, on a match,
// issues a session token for the matched user.
func (h *LoginHandler) FaceLogin(c *gin.Context) {
	if !h.issuer.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face login is not configured"})
		return
	}

	images, err := readImages(c, "image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	res, err := h.verifier.Verify(ctx, images[0])
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.Matched {
		slog.Info("face login rejected", "scanned", res.Scanned, "ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "face not recognized"})
		return
	}

	u, err := h.db.GetUser(ctx, res.OwnerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if u == nil {
		// Owner deleted between the scan and now.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "face not recognized"})
		return
	}

	token, expires, err := h.issuer.Issue(u)
	if err != nil {
		respondError(c, err)
		return
	}

	evt := models.IdentityEvent{
		Type:       models.EventFaceLogin,
		UserID:     u.ID,
		TemplateID: &res.TemplateID,
		Distance:   res.Distance,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Timestamp:  now(),
	}
	publish(ctx, h.events, evt)
	if h.out != nil {
		h.out.BroadcastEvent(&dto.WSEvent{Type: "face_login", OwnerID: u.ID, Data: evt})
	}

	slog.Info("face login", "user_id", u.ID, "distance", res.Distance)

	count, err := h.db.CountTemplates(ctx, u.ID)
	if err != nil {
		slog.Warn("count templates", "user_id", u.ID, "error", err)
	}

	c.JSON(http.StatusOK, dto.FaceLoginResponse{
		Token:      token,
		ExpiresAt:  expires.UTC().Format(time.RFC3339),
		User:       toUserResponse(u, count),
		TemplateID: res.TemplateID,
		Distance:   res.Distance,
		Confidence: res.Confidence,
	})
}
