// Package api provides the HTTP and WebSocket surface of the TWAP oracle.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/metrics"
	"tc.com/twap-oracle/pkg/oracle"
)

// Server represents the HTTP API server.
type Server struct {
	addr       string
	aggregator *oracle.Aggregator
	adminToken string
	server     *http.Server
	logger     *logging.Logger
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, agg *oracle.Aggregator, adminToken string, logger *logging.Logger) *Server {
	return &Server{
		addr:       addr,
		aggregator: agg,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/twap", s.handleTWAP)
	mux.HandleFunc("/v1/price", s.handleSpotPrice)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/admin/update", s.requireAdmin(s.handleUpdate))
	mux.HandleFunc("/admin/cursor", s.requireAdmin(s.handleCursor))
	mux.HandleFunc("/admin/price", s.requireAdmin(s.handleManualPrice))

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requireAdmin rejects requests without the configured bearer token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.logger.Warn("Unauthorized admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
			s.sendError(w, r.URL.Path, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// handleHealth handles /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/health", "200", time.Since(start))
	}()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleTWAP handles GET /v1/twap?timestamp=<epoch end>.
func (s *Server) handleTWAP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/twap", status, time.Since(start))
	}()

	ts, err := strconv.ParseUint(r.URL.Query().Get("timestamp"), 10, 64)
	if err != nil {
		status = "400"
		s.sendError(w, "/v1/twap", http.StatusBadRequest, "timestamp query parameter is required")
		return
	}

	rec, err := s.aggregator.GetTWAP(r.Context(), ts)
	if err != nil {
		status = "500"
		s.sendError(w, "/v1/twap", http.StatusInternalServerError, err.Error())
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"timestamp": ts,
		"price":     rec.Price.String(),
		"source":    rec.Source,
	})
}

// handleSpotPrice handles GET /v1/price: the unvalidated instantaneous
// secondary price, informational only.
func (s *Server) handleSpotPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/v1/price", status, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	price, err := s.aggregator.PeekSecondaryPrice(ctx)
	if err != nil {
		status = "502"
		s.sendError(w, "/v1/price", http.StatusBadGateway, err.Error())
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"price":     price.String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	defer func() {
		metrics.RecordHTTPRequest("/v1/status", "200", time.Since(start))
	}()

	s.sendJSON(w, s.aggregator.Status())
}

// handleUpdate handles POST /admin/update: run one epoch update cycle.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/admin/update", status, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		status = "405"
		s.sendError(w, "/admin/update", http.StatusMethodNotAllowed, "POST required")
		return
	}

	err := s.aggregator.Update(r.Context())
	switch {
	case errors.Is(err, oracle.ErrEpochNotElapsed):
		status = "409"
		s.sendError(w, "/admin/update", http.StatusConflict, err.Error())
	case errors.Is(err, oracle.ErrPrimaryBacklog):
		// Partial progress: the caller re-invokes to finish the epoch.
		status = "202"
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if encErr := json.NewEncoder(w).Encode(map[string]string{"status": "in_progress", "detail": err.Error()}); encErr != nil {
			s.logger.Error("Failed to encode response", "error", encErr.Error())
		}
	case err != nil:
		status = "500"
		s.sendError(w, "/admin/update", http.StatusInternalServerError, err.Error())
	default:
		s.sendJSON(w, s.aggregator.Status())
	}
}

type cursorRequest struct {
	Round uint64 `json:"round"`
}

// handleCursor handles POST /admin/cursor: fast-forward the feed cursor.
func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/admin/cursor", status, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		status = "405"
		s.sendError(w, "/admin/cursor", http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req cursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Round == 0 {
		status = "400"
		s.sendError(w, "/admin/cursor", http.StatusBadRequest, "round is required")
		return
	}

	if err := s.aggregator.FastForwardCursor(r.Context(), req.Round); err != nil {
		status = "422"
		s.sendError(w, "/admin/cursor", http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.sendJSON(w, s.aggregator.Status())
}

type manualPriceRequest struct {
	Timestamp uint64 `json:"timestamp"`
	Price     string `json:"price"`
}

// handleManualPrice handles POST /admin/price: fill a skipped epoch.
func (s *Server) handleManualPrice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "200"
	defer func() {
		metrics.RecordHTTPRequest("/admin/price", status, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		status = "405"
		s.sendError(w, "/admin/price", http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req manualPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "400"
		s.sendError(w, "/admin/price", http.StatusBadRequest, "invalid request body")
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		status = "400"
		s.sendError(w, "/admin/price", http.StatusBadRequest, "invalid price")
		return
	}

	if err := s.aggregator.SubmitManualPrice(r.Context(), req.Timestamp, price); err != nil {
		status = "422"
		s.sendError(w, "/admin/price", http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"timestamp": req.Timestamp,
		"price":     price.String(),
		"source":    oracle.SourceManual,
	})
}

// sendJSON writes a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", "error", err.Error())
	}
}

// sendError writes a JSON error response.
func (s *Server) sendError(w http.ResponseWriter, endpoint string, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		s.logger.Error("Failed to encode error response", "endpoint", endpoint, "error", err.Error())
	}
}
