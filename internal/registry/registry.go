// Package registry manages the set of named pools and their supporting
// machinery: per-pool scaler and health monitor background tasks, periodic
// stats sampling into storage, on-demand load tests and tuning advice.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/dbpool-manager/internal/advisor"
	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/driver"
	"github.com/cboxdk/dbpool-manager/internal/health"
	"github.com/cboxdk/dbpool-manager/internal/loadtest"
	"github.com/cboxdk/dbpool-manager/internal/pool"
	"github.com/cboxdk/dbpool-manager/internal/scaler"
	"github.com/cboxdk/dbpool-manager/internal/telemetry"
)

// Store is the persistence surface the registry writes through. All
// methods are append-only; a nil Store disables persistence.
type Store interface {
	RecordPoolSample(ctx context.Context, stats pool.Stats) error
	RecordCacheSample(ctx context.Context, poolName string, cs pool.CacheStats) error
	RecordHealthSample(ctx context.Context, s health.Sample) error
	RecordScalingEvent(ctx context.Context, ev scaler.Event) error
	RecordLoadTestResult(ctx context.Context, res *loadtest.Result, recommendedMax, recommendedMin int, notes string) error
}

// Registry owns all managed pools.
type Registry struct {
	logger         *zap.Logger
	drv            driver.Driver
	store          Store
	sampleInterval time.Duration
	trace          *telemetry.TraceHelper

	mu    sync.RWMutex
	pools map[string]*managedPool
}

// managedPool bundles a pool with its background tasks.
type managedPool struct {
	pool    *pool.Pool
	scaler  *scaler.Scaler
	monitor *health.Monitor
	tester  *loadtest.Tester
	cancel  context.CancelFunc
}

// New creates an empty registry. store may be nil; sampleInterval <= 0
// disables sampling.
func New(drv driver.Driver, store Store, sampleInterval time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:         logger.Named("registry"),
		drv:            drv,
		store:          store,
		sampleInterval: sampleInterval,
		trace:          telemetry.NewTraceHelper("dbpool-manager"),
		pools:          make(map[string]*managedPool),
	}
}

// CreatePool creates, warms up and starts managing a pool. The pool name
// must be unique within the registry. ctx bounds only the warmup; the
// pool's background tasks outlive it until RemovePool or Close.
func (r *Registry) CreatePool(ctx context.Context, cfg config.PoolConfig) (*pool.Pool, error) {
	config.ApplyPoolDefaults(&cfg)
	if err := config.ValidatePool(&cfg); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.pools[cfg.Name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("pool %q already exists", cfg.Name)
	}
	// Reserve the name while warmup runs outside the lock.
	r.pools[cfg.Name] = nil
	r.mu.Unlock()

	var p *pool.Pool
	err := r.trace.TracePoolCreateFunc(ctx, cfg.Name, func(ctx context.Context) error {
		var err error
		p, err = pool.New(ctx, cfg, r.drv, r.logger)
		return err
	})
	if err != nil {
		r.mu.Lock()
		delete(r.pools, cfg.Name)
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to create pool %q: %w", cfg.Name, err)
	}

	var scalerSink scaler.Sink
	var healthSink health.Sink
	if r.store != nil {
		scalerSink = r.store
		healthSink = r.store
	}

	bg, cancel := context.WithCancel(context.Background())
	mp := &managedPool{
		pool:    p,
		scaler:  scaler.New(p, r.logger, scalerSink),
		monitor: health.New(p, r.logger, healthSink),
		tester:  loadtest.New(p, r.logger),
		cancel:  cancel,
	}

	go mp.scaler.Run(bg)  //nolint:errcheck // exits on cancel
	go mp.monitor.Run(bg) //nolint:errcheck // exits on cancel
	if r.store != nil && r.sampleInterval > 0 {
		go r.sampleLoop(bg, mp)
	}

	r.mu.Lock()
	r.pools[cfg.Name] = mp
	r.mu.Unlock()

	r.logger.Info("Pool registered",
		zap.String("pool", cfg.Name),
		zap.Int("min_connections", cfg.MinConnections),
		zap.Int("max_connections", cfg.MaxConnections))
	return p, nil
}

// GetPool returns the named pool, or false if it does not exist.
func (r *Registry) GetPool(name string) (*pool.Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mp, ok := r.pools[name]
	if !ok || mp == nil {
		return nil, false
	}
	return mp.pool, true
}

// ListPools returns the managed pool names, sorted.
func (r *Registry) ListPools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pools))
	for name, mp := range r.pools {
		if mp != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RemovePool stops a pool's background tasks and closes it.
func (r *Registry) RemovePool(name string) error {
	r.mu.Lock()
	mp, ok := r.pools[name]
	if !ok || mp == nil {
		r.mu.Unlock()
		return fmt.Errorf("pool %q not found", name)
	}
	delete(r.pools, name)
	r.mu.Unlock()

	mp.cancel()
	if err := mp.pool.Close(); err != nil {
		return fmt.Errorf("failed to close pool %q: %w", name, err)
	}
	r.logger.Info("Pool removed", zap.String("pool", name))
	return nil
}

// Healthy reports the health verdict of the named pool's monitor.
func (r *Registry) Healthy(name string) (bool, error) {
	r.mu.RLock()
	mp, ok := r.pools[name]
	r.mu.RUnlock()
	if !ok || mp == nil {
		return false, fmt.Errorf("pool %q not found", name)
	}
	return mp.monitor.Healthy(), nil
}

// AllHealthy reports whether every managed pool is currently healthy.
func (r *Registry) AllHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, mp := range r.pools {
		if mp != nil && !mp.monitor.Healthy() {
			return false
		}
	}
	return true
}

// ScalingEvents returns the named pool's recent in-memory scaling events.
func (r *Registry) ScalingEvents(name string) ([]scaler.Event, error) {
	r.mu.RLock()
	mp, ok := r.pools[name]
	r.mu.RUnlock()
	if !ok || mp == nil {
		return nil, fmt.Errorf("pool %q not found", name)
	}
	return mp.scaler.Events(), nil
}

// RunLoadTest runs a load test against the named pool, persists the graded
// result with sizing advice, and returns it.
func (r *Registry) RunLoadTest(ctx context.Context, name string, opts loadtest.Options) (*loadtest.Result, error) {
	r.mu.RLock()
	mp, ok := r.pools[name]
	r.mu.RUnlock()
	if !ok || mp == nil {
		return nil, fmt.Errorf("pool %q not found", name)
	}

	var res *loadtest.Result
	err := r.trace.TraceLoadTestFunc(ctx, name, opts.Concurrency, func(ctx context.Context) error {
		var err error
		res, err = mp.tester.Run(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}

	if r.store != nil {
		sizing := advisor.SizeFromLoadTest(res, mp.pool.Config())
		if err := r.store.RecordLoadTestResult(ctx, res,
			sizing.RecommendedMax, sizing.RecommendedMin, sizing.Note); err != nil {
			r.logger.Warn("Failed to persist load test result",
				zap.String("pool", name),
				zap.Error(err))
		}
	}
	return res, nil
}

// OptimizeAll evaluates the tuning rules against every managed pool and
// returns the recommendations per pool name. Pools with nothing to flag
// map to an empty slice.
func (r *Registry) OptimizeAll() map[string][]string {
	r.mu.RLock()
	pools := make(map[string]*managedPool, len(r.pools))
	for name, mp := range r.pools {
		if mp != nil {
			pools[name] = mp
		}
	}
	r.mu.RUnlock()

	out := make(map[string][]string, len(pools))
	for name, mp := range pools {
		out[name] = advisor.Advise(mp.pool.Stats(), mp.pool.CacheStats())
	}
	return out
}

// Close removes every pool.
func (r *Registry) Close() error {
	var firstErr error
	for _, name := range r.ListPools() {
		if err := r.RemovePool(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sampleLoop periodically persists pool and cache stats samples.
func (r *Registry) sampleLoop(ctx context.Context, mp *managedPool) {
	ticker := time.NewTicker(r.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := mp.pool.Stats()
			if err := r.store.RecordPoolSample(ctx, stats); err != nil {
				r.logger.Warn("Failed to persist pool sample",
					zap.String("pool", stats.Name),
					zap.Error(err))
				continue
			}
			if err := r.store.RecordCacheSample(ctx, stats.Name, mp.pool.CacheStats()); err != nil {
				r.logger.Warn("Failed to persist cache sample",
					zap.String("pool", stats.Name),
					zap.Error(err))
			}
		}
	}
}
