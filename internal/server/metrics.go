package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/labelscan/internal/session"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelscan_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labelscan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Scan session metrics
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelscan_sessions_total",
			Help: "Total number of finished scan sessions",
		},
		[]string{"outcome"}, // outcome: completed, cancelled, aborted
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labelscan_phase_duration_seconds",
			Help:    "Time spent in each scan phase",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)

	cropFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labelscan_crop_failures_total",
			Help: "Total number of result boxes that could not be cropped",
		},
	)

	// Session limiting metrics
	sessionLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labelscan_session_limit_hits_total",
			Help: "Total number of requests rejected by the per-client session limit",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "labelscan_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labelscan_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labelscan_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

// SessionMetrics records scan session measurements in prometheus.
type SessionMetrics struct {
	sessions *prometheus.CounterVec
	phases   *prometheus.HistogramVec
	crops    prometheus.Counter
}

var defaultSessionMetrics = &SessionMetrics{
	sessions: sessionsTotal,
	phases:   phaseDuration,
	crops:    cropFailures,
}

// ObservePhase implements session.Metrics.
func (m *SessionMetrics) ObservePhase(phase session.Phase, d time.Duration) {
	m.phases.WithLabelValues(phase.String()).Observe(d.Seconds())
}

// SessionFinished implements session.Metrics.
func (m *SessionMetrics) SessionFinished(outcome session.Outcome) {
	m.sessions.WithLabelValues(outcome.String()).Inc()
}

// CropFailed implements session.Metrics.
func (m *SessionMetrics) CropFailed() {
	m.crops.Inc()
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
