// Package api exposes a JSON admin surface over the pool registry: pool
// introspection, resizing, on-demand load tests and tuning advice. It is
// mounted under /api/v1/ on the same listener as the metrics endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/dbpool-manager/internal/registry"
)

// Server handles the admin API requests.
type Server struct {
	logger    *zap.Logger
	pools     *registry.Registry
	version   string
	startTime time.Time
}

// NewServer creates an API server over the given pool registry.
func NewServer(pools *registry.Registry, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger.Named("api"),
		pools:     pools,
		version:   version,
		startTime: time.Now(),
	}
}

// Routes returns the handler for everything under /api/.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.HandleStatus)
	mux.HandleFunc("/api/v1/pools", s.HandlePools)
	mux.HandleFunc("/api/v1/pools/", s.HandlePoolSubtree)
	mux.HandleFunc("/api/v1/recommendations", s.HandleRecommendations)
	return s.loggingMiddleware(mux)
}

// loggingMiddleware logs one line per request with status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID generates a unique request ID.
func (s *Server) generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string, requestID string, details interface{}) {
	response := ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now(),
		Details:   details,
	}
	s.writeJSON(w, status, response)
}

// writeBusinessError maps a *BusinessError to its response, with a 500
// fallback for anything else.
func (s *Server) writeBusinessError(w http.ResponseWriter, err error, requestID string) {
	if be, ok := err.(*BusinessError); ok {
		s.writeError(w, be.StatusCode, be.Message, requestID, be.Details)
		return
	}
	s.writeError(w, http.StatusInternalServerError, "Internal server error", requestID, err.Error())
}

// parseJSON parses a JSON request body, rejecting unknown fields.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
