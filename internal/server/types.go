package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	gateway         recognition.Gateway
	display         geometry.Size
	mode            recognition.Mode
	includeBarcodes bool
	pacing          session.Pacing
	cropWorkers     int
	columnTimeout   time.Duration

	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int

	limiter *SessionLimiter
	metrics *SessionMetrics
	logger  *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int

	// Display is the default display size; requests may override it.
	Display         geometry.Size
	Mode            recognition.Mode
	IncludeBarcodes bool
	// Pacing applies to websocket sessions. POST /scan never paces.
	Pacing        session.Pacing
	CropWorkers   int
	ColumnTimeout time.Duration

	MaxSessionsPerClient int
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// CropInfo describes one cropped result box.
type CropInfo struct {
	BoxID    uuid.UUID     `json:"box_id"`
	Rect     geometry.Rect `json:"rect"`
	Rotation float64       `json:"rotation"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	PNG      []byte        `json:"png,omitempty"`
}

// ScanResponse is returned by POST /scan.
type ScanResponse struct {
	Success     bool                    `json:"success"`
	SessionID   string                  `json:"session_id,omitempty"`
	Result      *recognition.ScanResult `json:"result,omitempty"`
	Crops       []CropInfo              `json:"crops,omitempty"`
	ColumnCount int                     `json:"column_count,omitempty"`
	Columns     []recognition.Column    `json:"columns,omitempty"`
	Error       string                  `json:"error,omitempty"`
	DurationMs  int64                   `json:"duration_ms"`
}

// NewServer creates a scan server around a recognition gateway. A nil logger
// uses slog.Default().
func NewServer(config Config, gateway recognition.Gateway, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Display.IsEmpty() {
		config.Display = geometry.Size{Width: 390, Height: 844}
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 60
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}

	return &Server{
		gateway:         gateway,
		display:         config.Display,
		mode:            config.Mode,
		includeBarcodes: config.IncludeBarcodes,
		pacing:          config.Pacing,
		cropWorkers:     config.CropWorkers,
		columnTimeout:   config.ColumnTimeout,
		corsOrigin:      config.CORSOrigin,
		maxUploadMB:     config.MaxUploadMB,
		timeoutSec:      config.TimeoutSec,
		limiter:         NewSessionLimiter(config.MaxSessionsPerClient),
		metrics:         defaultSessionMetrics,
		logger:          logger,
	}
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan", s.corsMiddleware(s.limitMiddleware(s.scanHandler)))
	mux.HandleFunc("/scan/ws", s.limitMiddleware(s.scanWebSocketHandler))
	mux.Handle("/metrics", metricsHandler())
}

func (s *Server) sessionOptions(display geometry.Size, pacing session.Pacing, events session.EventSink) session.Options {
	return session.Options{
		Gateway:         s.gateway,
		Mapper:          geometry.NewMapper(display),
		Pacing:          pacing,
		Events:          events,
		Logger:          s.logger,
		Metrics:         s.metrics,
		Mode:            s.mode,
		IncludeBarcodes: s.includeBarcodes,
		CropWorkers:     s.cropWorkers,
	}
}
