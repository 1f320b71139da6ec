package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/pkg/dto"
)

const testAPIKey = "test-key"

type fixedDetector struct {
	err error
}

func (d fixedDetector) Detect(context.Context, image.Image) (identity.DetectionReport, error) {
	if d.err != nil {
		return identity.DetectionReport{}, d.err
	}
	return identity.DetectionReport{Faces: []identity.Face{
		{Box: [4]float32{100, 100, 200, 200}, Confidence: 0.99, Score: 95},
	}}, nil
}

// seedGenerator derives a one-hot embedding from the blue channel of the
// crop, which testImage sets to its seed.
type seedGenerator struct {
	err error
}

func (g seedGenerator) Generate(_ context.Context, face image.Image) (identity.Embedding, error) {
	if g.err != nil {
		return identity.Embedding{}, g.err
	}
	_, _, b, _ := face.At(face.Bounds().Min.X, face.Bounds().Min.Y).RGBA()
	values := make([]float32, 8)
	values[(b>>8)%8] = 1
	return identity.NewEmbedding(values)
}

func testImage(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x) + seed, uint8(y), seed, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type testEnv struct {
	router *gin.Engine
	db     *storage.MemoryStore
	issuer *auth.TokenIssuer
}

func newTestEnv(t *testing.T, detector identity.FaceDetector, gen identity.Generator) *testEnv {
	t.Helper()

	db := storage.NewMemoryStore()
	ledger := identity.NewMemoryLedger(time.Minute)
	scorer := identity.Scorer{Policy: identity.TruncateToShorter}
	matcher := identity.NewMatcher(db, scorer, identity.DefaultThreshold)
	gate := identity.NewGate(identity.GateConfig{}, detector, gen)
	refs, err := identity.NewSourceRefs(identity.SourceRefPrefix, identity.DefaultPrefixLength, nil)
	require.NoError(t, err)

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	issuer := auth.NewTokenIssuer("test-secret", "faceid", time.Hour)

	router := NewRouter(RouterConfig{
		APIKey:         testAPIKey,
		MaxUploadMB:    8,
		MaxBatchImages: 5,
		DB:             db,
		Hub:            hub,
		Detector:       detector,
		Enroller:       identity.NewEnroller(gate, db, db, ledger, refs),
		Verifier:       identity.NewVerifier(detector, gen, matcher, scorer),
		Previewer:      identity.NewPreviewer(detector, gen, &identity.DegradedGenerator{Dim: 16}),
		Ledger:         ledger,
		Refs:           refs,
		Issuer:         issuer,
	})
	return &testEnv{router: router, db: db, issuer: issuer}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

func multipartRequest(t *testing.T, path string, fields map[string]string, field string, images ...[]byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for i, img := range images {
		fw, err := mw.CreateFormFile(field, "face"+string(rune('a'+i))+".png")
		require.NoError(t, err)
		_, err = fw.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) createUser(t *testing.T, username string) dto.UserResponse {
	t.Helper()
	w := e.do(t, jsonRequest(t, http.MethodPost, "/v1/users", dto.CreateUserRequest{
		Username: username,
		Email:    username + "@example.com",
	}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.UserResponse](t, w)
}

func TestSystemEndpoints(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	w = env.do(t, req)
	assert.Equal(t, "trace-1", w.Header().Get("X-Request-ID"))

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]any{"database": "ok"}, body["checks"])
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/v1/users/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+uuid.NewString(), nil)
	req.Header.Set("X-API-Key", "wrong")
	w = env.do(t, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUserLifecycle(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	u := env.createUser(t, "alice")
	assert.Equal(t, "alice", u.Username)
	assert.Zero(t, u.FaceCount)

	w := env.do(t, jsonRequest(t, http.MethodPost, "/v1/users", dto.CreateUserRequest{
		Username: "alice", Email: "alice@example.com",
	}))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodPost, "/v1/users", map[string]string{"username": "bob"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodGet, "/v1/users/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodGet, "/v1/users/"+u.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.ID, decode[dto.UserResponse](t, w).ID)

	w = env.do(t, jsonRequest(t, http.MethodDelete, "/v1/users/"+u.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodGet, "/v1/users/"+u.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodDelete, "/v1/users/"+u.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollLoginAndSelfService(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})
	u := env.createUser(t, "carol")

	face := testImage(t, 320, 320, 1)
	small := testImage(t, 120, 120, 1)
	w := env.do(t, multipartRequest(t, "/v1/users/"+u.ID.String()+"/faces",
		map[string]string{"batch_id": "batch-1"}, "image", face, face, small))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decode[dto.EnrollmentResponse](t, w)
	assert.Equal(t, "batch-1", report.BatchID)
	require.Len(t, report.Items, 3)
	assert.Equal(t, "success", report.Items[0].Result)
	assert.NotNil(t, report.Items[0].TemplateID)
	assert.Equal(t, "duplicate", report.Items[1].Result)
	assert.Equal(t, "error", report.Items[2].Result)
	assert.Equal(t, "too_small", report.Items[2].ReasonCode)
	assert.Equal(t, dto.EnrollmentTally{Success: 1, Duplicate: 1, Error: 1, Total: 3}, report.Tally)

	w = env.do(t, jsonRequest(t, http.MethodGet, "/v1/enrollments/batch-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[dto.BatchStatusResponse](t, w).Tally.Total)

	w = env.do(t, jsonRequest(t, http.MethodGet, "/v1/enrollments/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, jsonRequest(t, http.MethodGet, "/v1/users/"+u.ID.String()+"/faces", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.FaceListResponse](t, w).Total)

	// Face login does not need the API key.
	login := multipartRequest(t, "/v1/auth/face-login", nil, "image", testImage(t, 320, 320, 1))
	login.Header.Del("X-API-Key")
	w = env.do(t, login)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	session := decode[dto.FaceLoginResponse](t, w)
	assert.Equal(t, u.ID, session.User.ID)
	assert.Equal(t, *report.Items[0].TemplateID, session.TemplateID)
	assert.InDelta(t, 1.0, session.Confidence, 1e-6)
	assert.NotEmpty(t, session.Token)

	w = env.do(t, multipartRequest(t, "/v1/auth/face-login", nil, "image", testImage(t, 320, 320, 5)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	me := httptest.NewRequest(http.MethodGet, "/v1/me/faces", nil)
	me.Header.Set("Authorization", "Bearer "+session.Token)
	w = env.do(t, me)
	require.Equal(t, http.StatusOK, w.Code)
	faces := decode[dto.FaceListResponse](t, w)
	require.Equal(t, 1, faces.Total)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/v1/me/faces", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	del := httptest.NewRequest(http.MethodDelete, "/v1/me/faces/"+faces.Faces[0].ID.String(), nil)
	del.Header.Set("Authorization", "Bearer "+session.Token)
	w = env.do(t, del)
	assert.Equal(t, http.StatusNoContent, w.Code)

	n, err := env.db.CountTemplates(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnrollUnknownOwner(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	w := env.do(t, multipartRequest(t, "/v1/users/"+uuid.NewString()+"/faces", nil, "image", testImage(t, 320, 320, 1)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollRejectsTooManyImages(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})
	u := env.createUser(t, "dave")

	img := testImage(t, 10, 10, 1)
	w := env.do(t, multipartRequest(t, "/v1/users/"+u.ID.String()+"/faces", nil, "image", img, img, img, img, img, img))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, multipartRequest(t, "/v1/users/"+u.ID.String()+"/faces", nil, "photo", img))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollModelUnavailable(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{err: fmt.Errorf("%w: load embedder", identity.ErrModelUnavailable)})
	user := env.createUser(t, "frank")

	w := env.do(t, multipartRequest(t, "/v1/users/"+user.ID.String()+"/faces", nil, "image",
		testImage(t, 320, 320, 1), testImage(t, 320, 320, 2)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Equal(t, "5", w.Header().Get("Retry-After"))

	faces, err := env.db.ListForOwner(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestEnrollBatchOfAnotherUser(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	fields := map[string]string{"batch_id": "shared-batch"}

	w := env.do(t, multipartRequest(t, "/v1/users/"+alice.ID.String()+"/faces", fields, "image", testImage(t, 320, 320, 1)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, multipartRequest(t, "/v1/users/"+bob.ID.String()+"/faces", fields, "image", testImage(t, 320, 320, 1)))
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "duplicate")
}

func TestFaceLoginModelUnavailable(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{err: identity.ErrModelUnavailable})

	w := env.do(t, multipartRequest(t, "/v1/auth/face-login", nil, "image", testImage(t, 320, 320, 1)))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestFaceLoginInvalidImage(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	w := env.do(t, multipartRequest(t, "/v1/auth/face-login", nil, "image", []byte("not an image")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCompareWithBase64Body(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	a := "data:image/png;base64," + base64.StdEncoding.EncodeToString(testImage(t, 320, 320, 2))
	b := base64.StdEncoding.EncodeToString(testImage(t, 320, 320, 2))
	w := env.do(t, jsonRequest(t, http.MethodPost, "/v1/face/compare", map[string]string{"image1": a, "image2": b}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[dto.CompareResponse](t, w)
	assert.True(t, res.Same)
	assert.InDelta(t, 1.0, res.Similarity, 1e-6)

	w = env.do(t, jsonRequest(t, http.MethodPost, "/v1/face/compare", map[string]string{"image1": a}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmbeddingPreviewFallsBackToSynthetic(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{err: identity.ErrModelUnavailable})

	w := env.do(t, multipartRequest(t, "/v1/face/embeddings", nil, "image", testImage(t, 320, 320, 3)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[dto.EmbeddingPreviewResponse](t, w)
	assert.True(t, res.Synthetic)
	assert.Equal(t, 16, res.Dim)
}

func TestDetect(t *testing.T) {
	env := newTestEnv(t, fixedDetector{}, seedGenerator{})

	w := env.do(t, multipartRequest(t, "/v1/face/detect", nil, "image", testImage(t, 320, 320, 3)))
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[dto.DetectResponse](t, w)
	require.Equal(t, 1, res.Count)
	assert.InDelta(t, 95, res.Faces[0].Quality, 1e-9)
}
