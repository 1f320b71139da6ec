package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/queue"
	"github.com/your-org/faceid/internal/storage"
)

type RouterConfig struct {
	APIKey string
	// MaxUploadMB bounds request bodies on /v1. Zero disables the limit.
	MaxUploadMB    int
	MaxBatchImages int

	DB    storage.Store
	MinIO *storage.ImageBucket // optional
	// Producer publishes identity events; nil disables publishing.
	Producer *queue.Producer
	Hub      *ws.Hub

	Detector  identity.FaceDetector
	Enroller  *identity.Enroller
	Verifier  *identity.Verifier
	Previewer *identity.Previewer
	Ledger    identity.BatchLedger
	Refs      identity.SourceRefs
	Issuer    *auth.TokenIssuer
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AddAllowHeaders("Authorization", "X-API-Key", requestIDHeader)
	corsCfg.AddExposeHeaders(requestIDHeader, "Retry-After")
	r.Use(cors.New(corsCfg))

	// Typed nils must not leak into the interfaces below.
	var (
		events  identity.EventPublisher
		purger  handlers.ObjectPurger
		objects handlers.ObjectReader
	)
	checks := map[string]handlers.Check{"database": cfg.DB.Ping}
	if cfg.Producer != nil {
		events = cfg.Producer
		checks["nats"] = func(context.Context) error { return cfg.Producer.Ping() }
	}
	if cfg.MinIO != nil {
		purger = cfg.MinIO
		objects = cfg.MinIO
		checks["minio"] = cfg.MinIO.Ping
	}

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(BodyLimit(int64(cfg.MaxUploadMB) << 20))

	// Face login and the self-service routes authenticate with the session
	// token rather than the API key.
	loginH := handlers.NewLoginHandler(cfg.Verifier, cfg.DB, cfg.Issuer, events, cfg.Hub)
	v1.POST("/auth/face-login", loginH.FaceLogin)

	faceH := handlers.NewFaceHandler(handlers.FaceHandlerConfig{
		DB:        cfg.DB,
		Enroller:  cfg.Enroller,
		Ledger:    cfg.Ledger,
		Refs:      cfg.Refs,
		Objects:   objects,
		Events:    events,
		MaxImages: cfg.MaxBatchImages,
	})

	me := v1.Group("/me")
	me.Use(auth.JWTMiddleware(cfg.Issuer))
	me.GET("/faces", faceH.ListMine)
	me.DELETE("/faces/:faceId", faceH.DeleteMine)
	me.GET("/access-logs", faceH.AccessLogs)

	admin := v1.Group("")
	admin.Use(auth.APIKeyMiddleware(cfg.APIKey))

	admin.GET("/ws", cfg.Hub.HandleWS)

	userH := handlers.NewUserHandler(cfg.DB, purger, events)
	admin.POST("/users", userH.Create)
	admin.GET("/users/:id", userH.Get)
	admin.DELETE("/users/:id", userH.Delete)

	admin.POST("/users/:id/faces", faceH.Enroll)
	admin.GET("/users/:id/faces", faceH.List)
	admin.DELETE("/users/:id/faces/:faceId", faceH.Delete)
	admin.GET("/users/:id/faces/:faceId/source", faceH.Source)
	admin.GET("/enrollments/:batchId", faceH.BatchStatus)

	analysisH := handlers.NewAnalysisHandler(cfg.Detector, cfg.Previewer, cfg.Verifier)
	admin.POST("/face/detect", analysisH.Detect)
	admin.POST("/face/embeddings", analysisH.Embeddings)
	admin.POST("/face/compare", analysisH.Compare)

	return r
}
