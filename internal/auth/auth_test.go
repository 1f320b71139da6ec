package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIssueAndParse(t *testing.T) {
	issuer := NewTokenIssuer("secret", "faceid", time.Hour)
	u := &models.User{ID: uuid.New(), Username: "ana"}

	token, exp, err := issuer.Issue(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), claims.Subject)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, "faceid", claims.Issuer)

	_, err = NewTokenIssuer("other", "faceid", time.Hour).Parse(token)
	assert.Error(t, err)

	_, err = NewTokenIssuer("secret", "someone-else", time.Hour).Parse(token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", "faceid", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := issuer.Issue(&models.User{ID: uuid.New()})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(token)
	assert.Error(t, err)
}

func TestIssueWithoutSecret(t *testing.T) {
	issuer := NewTokenIssuer("  ", "faceid", 0)
	assert.False(t, issuer.Enabled())
	_, _, err := issuer.Issue(&models.User{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestJWTMiddleware(t *testing.T) {
	issuer := NewTokenIssuer("secret", "faceid", time.Hour)
	uid := uuid.New()
	token, _, err := issuer.Issue(&models.User{ID: uid, Username: "ana"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", JWTMiddleware(issuer), func(c *gin.Context) {
		id, ok := UserID(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.String())
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, uid.String(), w.Body.String())
			}
		})
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/x", APIKeyMiddleware("k"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"header", "k", "", http.StatusNoContent},
		{"query", "", "?api_key=k", http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "nope", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	open := gin.New()
	open.GET("/x", APIKeyMiddleware(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
