// Package prometheus exposes pool metrics over HTTP. Metrics are gathered
// at scrape time from the pool registry, so the exporter holds no metric
// state of its own.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/registry"
)

// Exporter serves the metrics and health endpoints, plus the admin API
// when one is provided.
type Exporter struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	pools    *registry.Registry
	registry *prometheus.Registry
	api      http.Handler

	server      *http.Server
	rateLimiter *rate.Limiter

	mu      sync.Mutex
	running bool
}

// NewExporter creates an exporter over the given pool registry. api may be
// nil; when set it is mounted under /api/.
func NewExporter(cfg config.ServerConfig, pools *registry.Registry, api http.Handler, logger *zap.Logger) (*Exporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(newPoolCollector(pools)); err != nil {
		return nil, fmt.Errorf("failed to register pool collector: %w", err)
	}

	return &Exporter{
		cfg:      cfg,
		logger:   logger.Named("exporter"),
		pools:    pools,
		registry: reg,
		api:      api,
		// 100 requests per second with burst of 200 is far above any sane
		// scrape interval; the limiter only guards against runaway clients.
		rateLimiter: rate.NewLimiter(100, 200),
	}, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("exporter is already running")
	}
	e.running = true
	e.mu.Unlock()

	mux := http.NewServeMux()

	metricsHandler := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(e.logger),
		ErrorHandling: promhttp.ContinueOnError,
	})
	mux.Handle(e.cfg.MetricsPath, e.rateLimitMiddleware(metricsHandler))
	mux.HandleFunc(e.cfg.HealthPath, e.healthHandler)
	if e.api != nil {
		mux.Handle("/api/", e.rateLimitMiddleware(e.api))
	}
	mux.HandleFunc("/", e.rootHandler)

	e.server = &http.Server{
		Addr:         e.cfg.BindAddress,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	e.logger.Info("Metrics server starting",
		zap.String("bind_address", e.cfg.BindAddress),
		zap.String("metrics_path", e.cfg.MetricsPath))

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		e.logger.Error("Metrics server failed", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("Metrics server shutdown failed", zap.Error(err))
		return err
	}
	e.logger.Info("Metrics server stopped")
	return nil
}

// Stop shuts down the server outside of Start's own lifecycle.
func (e *Exporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Exporter) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.rateLimiter.Allow() {
			e.logger.Warn("Rate limit exceeded",
				zap.String("remote_addr", r.RemoteAddr))
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthHandler reports 200 when every managed pool is healthy, 503
// otherwise.
func (e *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if e.pools.AllHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","pools":%d}`, len(e.pools.ListPools()))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `{"status":"unhealthy","pools":%d}`, len(e.pools.ListPools()))
}

func (e *Exporter) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<html><head><title>Database Pool Manager</title></head><body>
<h1>Database Pool Manager</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="%s">Health</a></p>
<p><a href="/api/v1/status">Status API</a></p>
</body></html>`, e.cfg.MetricsPath, e.cfg.HealthPath)
}
