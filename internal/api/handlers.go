package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/dbpool-manager/internal/loadtest"
)

// HandleStatus handles GET /api/v1/status.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	names := s.pools.ListPools()
	summaries := make([]PoolSummary, 0, len(names))
	status := "healthy"
	for _, name := range names {
		p, ok := s.pools.GetPool(name)
		if !ok {
			continue
		}
		healthy, _ := s.pools.Healthy(name)
		if !healthy {
			status = "unhealthy"
		}
		stats := p.Stats()
		summaries = append(summaries, PoolSummary{
			Name:        name,
			Healthy:     healthy,
			ActiveCount: stats.ActiveCount,
			IdleCount:   stats.IdleCount,
			CurrentMax:  stats.CurrentMax,
			Utilization: stats.UtilizationRate,
		})
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Version:    s.version,
		Status:     status,
		Uptime:     time.Since(s.startTime).String(),
		Pools:      summaries,
		LastUpdate: time.Now(),
	})
}

// HandlePools handles GET /api/v1/pools.
func (s *Server) HandlePools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, PoolListResponse{Pools: s.pools.ListPools()})
}

// HandlePoolSubtree routes /api/v1/pools/{name} and its sub-resources.
func (s *Server) HandlePoolSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/pools/")
	parts := strings.SplitN(rest, "/", 2)
	name := parts[0]
	if name == "" {
		s.writeError(w, http.StatusNotFound, "Pool name missing", "", nil)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = strings.TrimSuffix(parts[1], "/")
	}

	switch sub {
	case "":
		s.handlePoolDetail(w, r, name)
	case "events":
		s.handlePoolEvents(w, r, name)
	case "loadtest":
		s.handlePoolLoadTest(w, r, name)
	case "resize":
		s.handlePoolResize(w, r, name)
	default:
		s.writeError(w, http.StatusNotFound, "Unknown pool resource", "", sub)
	}
}

// handlePoolDetail handles GET /api/v1/pools/{name}.
func (s *Server) handlePoolDetail(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	p, ok := s.pools.GetPool(name)
	if !ok {
		s.writeBusinessError(w, NewPoolNotFoundError(name), s.generateRequestID())
		return
	}
	healthy, _ := s.pools.Healthy(name)

	s.writeJSON(w, http.StatusOK, PoolDetailResponse{
		Name:    name,
		Healthy: healthy,
		Stats:   p.Stats(),
		Cache:   p.CacheStats(),
	})
}

// handlePoolEvents handles GET /api/v1/pools/{name}/events.
func (s *Server) handlePoolEvents(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	events, err := s.pools.ScalingEvents(name)
	if err != nil {
		s.writeBusinessError(w, NewPoolNotFoundError(name), s.generateRequestID())
		return
	}
	s.writeJSON(w, http.StatusOK, ScalingEventsResponse{Pool: name, Events: events})
}

// handlePoolLoadTest handles POST /api/v1/pools/{name}/loadtest. The
// request blocks for the duration of the test.
func (s *Server) handlePoolLoadTest(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	requestID := s.generateRequestID()
	var req LoadTestRequest
	if r.ContentLength > 0 {
		if err := s.parseJSON(r, &req); err != nil {
			s.writeBusinessError(w, NewInvalidRequestError(err.Error()), requestID)
			return
		}
	}
	if req.Concurrency < 1 {
		s.writeBusinessError(w, NewInvalidRequestError("concurrency must be at least 1"), requestID)
		return
	}
	if req.DurationSeconds < 1 {
		s.writeBusinessError(w, NewInvalidRequestError("duration_seconds must be at least 1"), requestID)
		return
	}

	opts := loadtest.Options{
		Concurrency: req.Concurrency,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
		Query:       req.Query,
		TargetRPS:   float64(req.TargetRPS),
	}

	s.logger.Info("Load test requested",
		zap.String("pool", name),
		zap.Int("concurrency", req.Concurrency),
		zap.Int("duration_seconds", req.DurationSeconds),
		zap.String("request_id", requestID))

	res, err := s.pools.RunLoadTest(r.Context(), name, opts)
	if err != nil {
		if _, ok := s.pools.GetPool(name); !ok {
			s.writeBusinessError(w, NewPoolNotFoundError(name), requestID)
			return
		}
		s.writeBusinessError(w, NewOperationFailedError("run load test", err), requestID)
		return
	}

	s.writeJSON(w, http.StatusOK, LoadTestResponse{Result: res})
}

// handlePoolResize handles POST /api/v1/pools/{name}/resize.
func (s *Server) handlePoolResize(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	requestID := s.generateRequestID()
	var req ResizeRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeBusinessError(w, NewInvalidRequestError(err.Error()), requestID)
		return
	}

	p, ok := s.pools.GetPool(name)
	if !ok {
		s.writeBusinessError(w, NewPoolNotFoundError(name), requestID)
		return
	}

	if err := p.Resize(req.MinConnections, req.MaxConnections); err != nil {
		s.writeBusinessError(w, NewInvalidRequestError(err.Error()), requestID)
		return
	}

	s.logger.Info("Pool resized via API",
		zap.String("pool", name),
		zap.Int("min_connections", req.MinConnections),
		zap.Int("max_connections", req.MaxConnections),
		zap.String("request_id", requestID))

	s.writeJSON(w, http.StatusOK, ResizeResponse{
		Pool:           name,
		MinConnections: req.MinConnections,
		MaxConnections: req.MaxConnections,
	})
}

// HandleRecommendations handles GET /api/v1/recommendations.
func (s *Server) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", "", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, RecommendationsResponse{
		Recommendations: s.pools.OptimizeAll(),
		GeneratedAt:     time.Now(),
	})
}
