package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IdentifyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "identify_total",
		Help:      "Total number of identify calls by outcome",
	}, []string{"outcome"})

	TemplatesScanned = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "templates_scanned",
		Help:      "Number of enrolled templates scanned per identify call",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	TemplatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "templates_skipped_total",
		Help:      "Templates skipped during a scan because they could not be compared",
	})

	DimensionMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "dimension_mismatch_total",
		Help:      "Comparisons between embeddings of different lengths",
	})

	EnrollmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "enrollment_outcomes_total",
		Help:      "Per-image enrollment outcomes",
	}, []string{"result", "reason"})

	ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "model_loads_total",
		Help:      "Model load attempts by model and result",
	}, []string{"model", "result"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "events_published_total",
		Help:      "Identity events published to NATS",
	}, []string{"type"})

	AuditRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "audit_records_total",
		Help:      "Identity events handled by the audit worker",
	}, []string{"type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
