package api

import (
	"time"

	"github.com/cboxdk/dbpool-manager/internal/loadtest"
	"github.com/cboxdk/dbpool-manager/internal/pool"
	"github.com/cboxdk/dbpool-manager/internal/scaler"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Details   interface{} `json:"details,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Version    string        `json:"version"`
	Status     string        `json:"status"`
	Uptime     string        `json:"uptime"`
	Pools      []PoolSummary `json:"pools"`
	LastUpdate time.Time     `json:"last_update"`
}

// PoolSummary is the condensed per-pool view in the status response.
type PoolSummary struct {
	Name        string  `json:"name"`
	Healthy     bool    `json:"healthy"`
	ActiveCount int     `json:"active_count"`
	IdleCount   int     `json:"idle_count"`
	CurrentMax  int     `json:"current_max"`
	Utilization float64 `json:"utilization"`
}

// PoolListResponse is the body of GET /api/v1/pools.
type PoolListResponse struct {
	Pools []string `json:"pools"`
}

// PoolDetailResponse is the body of GET /api/v1/pools/{name}.
type PoolDetailResponse struct {
	Name    string          `json:"name"`
	Healthy bool            `json:"healthy"`
	Stats   pool.Stats      `json:"stats"`
	Cache   pool.CacheStats `json:"cache"`
}

// ScalingEventsResponse is the body of GET /api/v1/pools/{name}/events.
type ScalingEventsResponse struct {
	Pool   string         `json:"pool"`
	Events []scaler.Event `json:"events"`
}

// LoadTestRequest is the body of POST /api/v1/pools/{name}/loadtest.
type LoadTestRequest struct {
	Concurrency     int    `json:"concurrency"`
	DurationSeconds int    `json:"duration_seconds"`
	TargetRPS       int    `json:"target_rps,omitempty"`
	Query           string `json:"query,omitempty"`
}

// LoadTestResponse is the body returned after a load test completes.
type LoadTestResponse struct {
	Result *loadtest.Result `json:"result"`
}

// ResizeRequest is the body of POST /api/v1/pools/{name}/resize.
type ResizeRequest struct {
	MinConnections int `json:"min_connections"`
	MaxConnections int `json:"max_connections"`
}

// ResizeResponse confirms an applied resize.
type ResizeResponse struct {
	Pool           string `json:"pool"`
	MinConnections int    `json:"min_connections"`
	MaxConnections int    `json:"max_connections"`
}

// RecommendationsResponse is the body of GET /api/v1/recommendations,
// keyed by pool name.
type RecommendationsResponse struct {
	Recommendations map[string][]string `json:"recommendations"`
	GeneratedAt     time.Time           `json:"generated_at"`
}
