// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/notfound-triage/internal/config"
	"github.com/smartdevs17/notfound-triage/internal/ingest"
	"github.com/smartdevs17/notfound-triage/internal/metrics"
	"github.com/smartdevs17/notfound-triage/internal/notification"
	"github.com/smartdevs17/notfound-triage/internal/triage"
	"github.com/smartdevs17/notfound-triage/pkg/utils"
)

// Version is reported by the health endpoint and the version command
var Version = "1.0.0"

// HTTPServer serves the admin API
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	handler        http.Handler
	service        *triage.Service
	recorder       *ingest.Recorder
	notifier       notification.Notifier
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	stopUpdater    chan struct{}
}

// NewHTTPServer creates a new HTTP server. recorder, notifier and
// metricsManager may be nil; without a recorder hits are written inline.
func NewHTTPServer(
	cfg *config.ServerConfig,
	service *triage.Service,
	recorder *ingest.Recorder,
	notifier notification.Notifier,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if service == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Triage service is required", "")
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}

	server := &HTTPServer{
		config:         cfg,
		service:        service,
		recorder:       recorder,
		notifier:       notifier,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		stopUpdater:    make(chan struct{}),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()
	// Entry paths travel URL-escaped inside a single segment.
	s.router.UseEncodedPath()

	s.router.Use(s.loggingMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metricsManager.Gatherer(), promhttp.HandlerOpts{}))
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Write path
	api.HandleFunc("/hits", s.recordHitHandler).Methods("POST")

	// Entry endpoints
	api.HandleFunc("/entries", s.listEntriesHandler).Methods("GET")
	api.HandleFunc("/entries", s.clearEntriesHandler).Methods("DELETE")
	api.HandleFunc("/entries/ignore", s.ignoreEntryHandler).Methods("POST")
	api.HandleFunc("/entries/unignore", s.unignoreEntryHandler).Methods("POST")
	api.HandleFunc("/entries/redirect", s.createRedirectHandler).Methods("POST")
	api.HandleFunc("/entries/{path:.+}", s.getEntryHandler).Methods("GET")
	api.HandleFunc("/entries/{path:.+}", s.deleteEntryHandler).Methods("DELETE")
	api.HandleFunc("/export", s.exportHandler).Methods("GET")

	// Ignore pattern endpoints
	api.HandleFunc("/patterns", s.listPatternsHandler).Methods("GET")
	api.HandleFunc("/patterns", s.createPatternHandler).Methods("POST")
	api.HandleFunc("/patterns/{id}", s.deletePatternHandler).Methods("DELETE")

	// Redirect endpoints
	api.HandleFunc("/redirects", s.listRedirectsHandler).Methods("GET")
	api.HandleFunc("/redirects/{source:.+}", s.deleteRedirectHandler).Methods("DELETE")

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.config.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.ExposedHeaders([]string{"Content-Disposition"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(false),
	)
	s.handler = recovery(cors(s.router))
}

// Handler returns the fully wrapped handler
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	// Publish system and component metrics before the first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateComponentMetrics()
		case <-s.stopUpdater:
			return
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	pm := s.metricsManager.GetPrometheusMetrics()
	pm.UpdateComponentHealth("storage", s.service.Health().Healthy)
	pm.UpdateComponentHealth("notification", s.notifier.IsHealthy())
	if s.recorder != nil {
		pm.UpdateComponentHealth("ingest", s.recorder.GetStats().Running)
	}
}

// Stop gracefully stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	close(s.stopUpdater)

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler reports storage, ingest and notification health
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.service.Health()

	status := "healthy"
	code := http.StatusOK
	if !storageHealth.Healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	components := map[string]interface{}{
		"storage":      storageHealth,
		"notification": s.notifier.IsHealthy(),
	}
	if s.recorder != nil {
		components["ingest"] = s.recorder.GetStats().Running
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"version":    Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"storage":         storageStats,
		"notification":    s.notifier.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.recorder != nil {
		stats["ingest"] = s.recorder.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Utility Methods

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// statusForCode maps AppError codes to HTTP statuses
var statusForCode = map[string]int{
	utils.ErrCodeValidation:         http.StatusBadRequest,
	utils.ErrCodeInvalidPattern:     http.StatusBadRequest,
	utils.ErrCodeNotFound:           http.StatusNotFound,
	utils.ErrCodeDuplicateSource:    http.StatusConflict,
	utils.ErrCodeStorageUnavailable: http.StatusServiceUnavailable,
	utils.ErrCodeExportTimeout:      http.StatusGatewayTimeout,
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes err with the status its code maps to
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := utils.ErrorCode(err)
	status, ok := statusForCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := errorResponse{Error: err.Error(), Code: code}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Details = appErr.Details
	}

	entry := s.logger.WithFields(logrus.Fields{
		"status": status,
		"code":   code,
		"error":  err,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("HTTP error")
	} else {
		entry.Debug("HTTP client error")
	}

	s.writeJSON(w, status, resp)
}

// decodeJSON decodes the request body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid request body", err.Error())
	}
	return nil
}
