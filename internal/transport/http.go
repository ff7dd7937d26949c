// Package transport provides the HTTP API, the /metrics endpoint and the
// WebSocket summary stream.
package transport

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/txprober/pkg/types"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	readyCheckTimeout   = 5 * time.Second
)

// MetricsSource is the read side of the metrics store.
type MetricsSource interface {
	ConfirmationSeries() iter.Seq[types.ConfirmationPoint]
	Counts() types.TransactionCounts
	GasMetrics() types.GasMetrics
	SpeedMetrics() types.SpeedMetrics
	LastError() *types.LastError
	Summary() types.Summary
}

// StatusProvider reports the scheduler status.
type StatusProvider interface {
	Status() *types.Status
}

// HistoryProvider pages through the probe journal.
type HistoryProvider interface {
	ListProbes(ctx context.Context, limit, offset int) (*types.PaginatedProbes, error)
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

// CheckRPC calls f.
func (f HealthFunc) CheckRPC(ctx context.Context) error { return f(ctx) }

// ServerConfig for creating a Server.
type ServerConfig struct {
	Metrics            MetricsSource
	Status             StatusProvider
	History            HistoryProvider // optional
	Health             HealthChecker   // optional
	Gatherer           prometheus.Gatherer
	Logger             *slog.Logger
	CORSAllowedOrigins string        // comma-separated, "*" or empty allows all
	BroadcastInterval  time.Duration // WebSocket push interval, default 2s
}

// Server handles HTTP requests for the prober.
type Server struct {
	metrics   MetricsSource
	status    StatusProvider
	history   HistoryProvider
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	// CORS configuration
	corsAllowedOrigins []string // Parsed list of allowed origins
	corsAllowAll       bool     // True if "*" or empty (allow all origins)
}

// NewServer creates a new HTTP server and starts its WebSocket broadcaster.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		metrics:   cfg.Metrics,
		status:    cfg.Status,
		history:   cfg.History,
		health:    cfg.Health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
	}

	// Parse CORS allowed origins
	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.corsAllowedOrigins = append(s.corsAllowedOrigins, o)
			}
		}
	}

	s.wsServer = NewWebSocketServer(cfg.Metrics, cfg.BroadcastInterval, s.originAllowed, logger)
	s.wsServer.Start()

	return s
}

// Close stops the WebSocket broadcaster and disconnects clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	routes := map[string]http.HandlerFunc{
		"/metrics/confirmation-times": s.handleConfirmationTimes,
		"/metrics/transaction-counts": s.handleTransactionCounts,
		"/metrics/gas":                s.handleGas,
		"/metrics/speed":              s.handleSpeed,
		"/metrics/last-error":         s.handleLastError,
		"/status":                     s.handleStatus,
		"/history":                    s.handleHistory,
	}
	for path, h := range routes {
		mux.HandleFunc("/api"+path, s.corsMiddleware(h))
		mux.HandleFunc("/v1"+path, s.corsMiddleware(h))
	}

	mux.HandleFunc("/ws", s.wsServer.Handler())
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	// Health endpoints (unversioned - standard Kubernetes probes)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	// Prometheus metrics (unversioned - standard path)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// originAllowed reports whether origin is in the allow-list.
func (s *Server) originAllowed(origin string) bool {
	return s.corsAllowAll || slices.Contains(s.corsAllowedOrigins, origin)
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if r.Method != http.MethodGet {
			s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleConfirmationTimes(w http.ResponseWriter, r *http.Request) {
	points := []types.ConfirmationPoint{}
	for p := range s.metrics.ConfirmationSeries() {
		points = append(points, p)
	}
	s.writeJSON(w, points)
}

func (s *Server) handleTransactionCounts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.metrics.Counts())
}

func (s *Server) handleGas(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.metrics.GasMetrics())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.metrics.SpeedMetrics())
}

// handleLastError returns the last error descriptor or null.
func (s *Server) handleLastError(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.metrics.LastError())
}

// handleStatus returns the scheduler status with a full metrics summary.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.status.Status())
}

// handleHistory returns journaled probes with optional pagination.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSONError(w, "Probe journal is not enabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxHistoryLimit {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	result, err := s.history.ListProbes(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("Failed to list probes", slog.String("error", err.Error()))
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []types.ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := s.health.CheckRPC(ctx)
		cancel()

		check := types.ReadinessCheck{Name: "rpc", Healthy: true}
		if err != nil {
			check.Healthy = false
			check.Message = err.Error()
			allHealthy = false
		}
		checks = append(checks, check)
	}

	if s.status != nil {
		check := types.ReadinessCheck{Name: "prober", Healthy: true}
		if s.status.Status().State == types.StateStopped {
			check.Healthy = false
			check.Message = "prober is stopped"
			allHealthy = false
		}
		checks = append(checks, check)
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ready":  allHealthy,
		"checks": checks,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
