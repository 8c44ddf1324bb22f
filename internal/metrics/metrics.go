package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker metrics
var (
	// AssetsProcessed counts the total number of assets processed by status.
	AssetsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Name:      "assets_processed_total",
			Help:      "Total number of video assets processed",
		},
		[]string{"status"},
	)

	// ProcessingDuration tracks the time taken to process assets end to end.
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "asset_processing_duration_seconds",
			Help:      "Time taken to process video assets",
			Buckets:   []float64{10, 30, 60, 120, 300, 600},
		},
	)

	// DownloadDuration tracks the time taken to download source files.
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "source_download_duration_seconds",
			Help:      "Time taken to download source videos",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// EncodeDuration tracks the time taken for the external encoder.
	EncodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "encode_duration_seconds",
			Help:      "Time taken for encrypted HLS encoding",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// RelocateDuration tracks the time taken to move output to storage.
	RelocateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Name:      "output_relocate_duration_seconds",
			Help:      "Time taken to relocate packaged output",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// ActiveJobs tracks the number of currently processing jobs.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vault",
			Name:      "active_jobs",
			Help:      "Number of currently processing transcode jobs",
		},
	)
)

// Playback metrics
var (
	// TokensIssued counts minted playback tokens.
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "playback",
			Name:      "tokens_issued_total",
			Help:      "Total number of playback tokens issued",
		},
	)

	// AuthorizationRejections counts playback rejections by reason.
	AuthorizationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "playback",
			Name:      "authorization_rejections_total",
			Help:      "Total number of playback authorization rejections",
		},
		[]string{"reason"},
	)

	// KeyDeliveries counts key-delivery outcomes.
	KeyDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "playback",
			Name:      "key_deliveries_total",
			Help:      "Total number of key delivery requests",
		},
		[]string{"outcome"},
	)

	// KeysRotated counts key rotations.
	KeysRotated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "playback",
			Name:      "keys_rotated_total",
			Help:      "Total number of encryption key rotations",
		},
	)

	// SignedURLsSwept counts expired signed URL rows deleted by the sweeper.
	SignedURLsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "playback",
			Name:      "signed_urls_swept_total",
			Help:      "Total number of expired signed URL records deleted",
		},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AuthFailures counts authentication failures by type.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// UploadsInitiated counts upload initiations.
	UploadsInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "api",
			Name:      "uploads_initiated_total",
			Help:      "Total number of uploads initiated",
		},
	)
)

// RecordSuccess records a successful asset processing.
func RecordSuccess() {
	AssetsProcessed.WithLabelValues("success").Inc()
}

// RecordFailure records a failed asset processing.
func RecordFailure() {
	AssetsProcessed.WithLabelValues("failed").Inc()
}

// RecordRejection records a playback authorization rejection.
func RecordRejection(reason string) {
	AuthorizationRejections.WithLabelValues(reason).Inc()
}

// RecordKeyDelivery records a key delivery outcome.
func RecordKeyDelivery(outcome string) {
	KeyDeliveries.WithLabelValues(outcome).Inc()
}
