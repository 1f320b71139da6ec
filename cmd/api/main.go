package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/faceid/internal/api"
	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/auth"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/imaging"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/queue"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceid API service", "port", cfg.Server.Port, "db_driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// MinIO is optional unless source images are kept as objects.
	var bucket *storage.ImageBucket
	if cfg.MinIO.Endpoint != "" {
		bucket, err = storage.NewImageBucket(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := bucket.Prepare(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
	}

	// NATS is optional; without it identity events are not published.
	var producer *queue.Producer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
	}

	ledger, closeLedger, err := openLedger(cfg)
	if err != nil {
		slog.Error("open batch ledger", "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	var sink identity.ObjectSink
	if bucket != nil {
		sink = bucket
	}
	refs, err := identity.NewSourceRefs(cfg.Enrollment.SourceRef.Mode, cfg.Enrollment.SourceRef.PrefixLength, sink)
	if err != nil {
		slog.Error("configure source refs", "error", err)
		os.Exit(1)
	}

	// Models load on first use so the service starts without them.
	visionModels := vision.NewModels(cfg.Vision)
	defer vision.Shutdown()
	defer visionModels.Close()

	norm, err := imaging.ParseNormalization(cfg.Vision.Normalization)
	if err != nil {
		slog.Error("configure embedder", "error", err)
		os.Exit(1)
	}
	policy, err := identity.ParseDimensionPolicy(cfg.Matching.DimensionPolicy)
	if err != nil {
		slog.Error("configure matcher", "error", err)
		os.Exit(1)
	}

	detector := vision.NewFaceFinder(visionModels.Detector, cfg.Vision.InferenceTimeout)
	generator := identity.NewRealGenerator(visionModels.Embedder, norm, cfg.Vision.InferenceTimeout)
	scorer := identity.Scorer{Policy: policy}
	matcher := identity.NewMatcher(db, scorer, cfg.Matching.Threshold)

	var degraded *identity.DegradedGenerator
	if cfg.Vision.Degraded {
		degraded = &identity.DegradedGenerator{Dim: cfg.Vision.EmbeddingDim}
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	gate := identity.NewGate(identity.GateConfig{
		MinWidth:   cfg.Enrollment.MinWidth,
		MinHeight:  cfg.Enrollment.MinHeight,
		MinQuality: cfg.Enrollment.MinQuality,
	}, detector, generator)

	enrollOpts := []identity.EnrollerOption{
		identity.WithProgressSink(handlers.NewProgressRelay(hub)),
		identity.WithInterImageDelay(cfg.Enrollment.InterImageDelay),
	}
	if producer != nil {
		enrollOpts = append(enrollOpts, identity.WithEventPublisher(producer))
	}
	enroller := identity.NewEnroller(gate, db, db, ledger, refs, enrollOpts...)

	if cfg.Auth.JWTSecret == "" {
		slog.Warn("auth.jwt_secret not set, face login disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		MaxUploadMB:    cfg.Server.MaxUploadMB,
		MaxBatchImages: cfg.Enrollment.MaxBatchImages,
		DB:             db,
		MinIO:          bucket,
		Producer:       producer,
		Hub:            hub,
		Detector:       detector,
		Enroller:       enroller,
		Verifier:       identity.NewVerifier(detector, generator, matcher, scorer),
		Previewer:      identity.NewPreviewer(detector, generator, degraded),
		Ledger:         ledger,
		Refs:           refs,
		Issuer:         auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Database.Driver == "memory" {
		slog.Warn("using in-memory store, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}

	pg, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func openLedger(cfg *config.Config) (identity.BatchLedger, func(), error) {
	if cfg.Redis.Addr == "" {
		return identity.NewMemoryLedger(cfg.Enrollment.BatchTTL), func() {}, nil
	}

	client, err := storage.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRedisLedger(client, cfg.Enrollment.BatchTTL), func() { _ = client.Close() }, nil
}
