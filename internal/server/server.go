// Package server exposes the reconciliation service over HTTP.
//
// Routes:
//   - GET  /health     liveness check
//   - POST /reconcile  reconcile the PO items and candidates in the JSON body
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"po-reconciliation-service/internal/matcher"
	"po-reconciliation-service/internal/models"
	"po-reconciliation-service/internal/reconciler"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config holds the HTTP listener settings
type Config struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the default listener settings
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		MaxBodyBytes:    32 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the listener settings
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body size must be positive: %d", c.MaxBodyBytes)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// ReconcileRequest is the body of POST /reconcile. Items without a source
// default to PO and Datasheet respectively.
type ReconcileRequest struct {
	POItems       []*models.LineItem `json:"po_items"`
	Candidates    []*models.LineItem `json:"candidates"`
	MinConfidence *float64           `json:"min_confidence,omitempty"`
}

// Server routes HTTP requests to a ReconciliationService
type Server struct {
	service *reconciler.ReconciliationService
	config  *Config
	logger  logger.Logger
	router  chi.Router
}

// NewServer creates a server around the service
func NewServer(service *reconciler.ReconciliationService, config *Config, log logger.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "new_server", fmt.Errorf("reconciliation service is required"))
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "server", config.Addr, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Server{
		service: service,
		config:  config,
		logger:  log.WithComponent("http"),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/reconcile", s.handleReconcile)

	return r
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.InternalError(errors.CodeUnexpectedError, "listen", err).
			WithSuggestion("Check that the address is free and valid")
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithField("request_id", middleware.GetReqID(r.Context()))

	var req ReconcileRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, errors.ValidationError(errors.CodeInvalidFormat, "body", nil, err).
			WithSuggestion("Send a JSON object with po_items and candidates"))
		return
	}

	if err := normalizeSources(&req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.service.ReconcileWithConfig(r.Context(), req.POItems, req.Candidates, s.matchingConfig(&req))
	if err != nil {
		log.WithError(err).Warn("Reconciliation request failed")
		s.writeError(w, err)
		return
	}

	log.WithFields(logger.Fields{
		"run_id":     result.RunID,
		"po_items":   result.TotalPOItems,
		"matched":    result.MatchedCount,
		"mismatched": result.MismatchedCount,
	}).Info("Reconciliation request completed")

	writeJSON(w, http.StatusOK, result)
}

// normalizeSources fills missing sources and rejects items placed in the
// wrong collection
func normalizeSources(req *ReconcileRequest) error {
	for i, item := range req.POItems {
		if item == nil {
			return errors.ValidationError(errors.CodeMissingField, "po_items", i, fmt.Errorf("item %d is null", i))
		}
		if item.Source == "" {
			item.Source = models.SourcePO
		}
		if item.Source != models.SourcePO {
			return errors.ValidationError(errors.CodeInvalidData, "po_items", item.Source,
				fmt.Errorf("item %d has source %q, expected %s", i, item.Source, models.SourcePO))
		}
	}

	for i, item := range req.Candidates {
		if item == nil {
			return errors.ValidationError(errors.CodeMissingField, "candidates", i, fmt.Errorf("item %d is null", i))
		}
		if item.Source == "" {
			item.Source = models.SourceDatasheet
		}
		if !item.Source.IsCandidate() {
			return errors.ValidationError(errors.CodeInvalidData, "candidates", item.Source,
				fmt.Errorf("item %d has source %q, expected %s or %s", i, item.Source, models.SourceSO, models.SourceDatasheet))
		}
	}

	return nil
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error *errors.ReconcilerError `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	re := errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "unexpected error during reconcile")
	writeJSON(w, statusFor(re), errorResponse{Error: re})
}

func statusFor(err *errors.ReconcilerError) int {
	switch err.Category {
	case errors.CategoryValidation, errors.CategoryConfiguration, errors.CategoryParse:
		return http.StatusBadRequest
	}
	if err.Code == errors.CodeCancelled {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request through the structured logger
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.WithFields(logger.Fields{
				"request_id":  middleware.GetReqID(r.Context()),
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration":    time.Since(start).String(),
			}).Info("http")
		})
	}
}

// matchingConfig applies the request's overrides to a copy of the service
// configuration
func (s *Server) matchingConfig(req *ReconcileRequest) *matcher.MatchingConfig {
	config := s.service.GetMatchingConfig()
	if req.MinConfidence != nil {
		config.MinConfidence = *req.MinConfidence
	}
	return config
}
