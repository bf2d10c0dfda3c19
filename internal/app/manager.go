// Package app wires the manager's components together: storage, the pool
// registry with its per-pool background tasks, the metrics server and
// telemetry.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cboxdk/dbpool-manager/internal/api"
	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/driver"
	"github.com/cboxdk/dbpool-manager/internal/prometheus"
	"github.com/cboxdk/dbpool-manager/internal/registry"
	"github.com/cboxdk/dbpool-manager/internal/storage"
	"github.com/cboxdk/dbpool-manager/internal/telemetry"
)

// Manager is the top-level application component.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	storage   *storage.SQLiteStorage
	registry  *registry.Registry
	exporter  *prometheus.Exporter
	telemetry *telemetry.Service

	mu        sync.Mutex
	running   bool
	startTime time.Time
}

// NewManager builds a manager from configuration using the given database
// driver.
func NewManager(cfg *config.Config, drv driver.Driver, version string, logger *zap.Logger) (*Manager, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	telemetryService, err := telemetry.NewService(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry: %w", err)
	}

	reg := registry.New(drv, store, cfg.Storage.SampleInterval, logger)
	apiServer := api.NewServer(reg, version, logger)

	exporter, err := prometheus.NewExporter(cfg.Server, reg, apiServer.Routes(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		storage:   store,
		registry:  reg,
		exporter:  exporter,
		telemetry: telemetryService,
	}, nil
}

// Registry exposes the pool registry.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("manager is already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.mu.Unlock()

	if err := m.storage.Start(ctx); err != nil {
		return fmt.Errorf("failed to start storage: %w", err)
	}

	// Pools warm up before the metrics server comes up, so the first
	// scrape sees every configured pool.
	for _, poolCfg := range m.cfg.Pools {
		if _, err := m.registry.CreatePool(ctx, poolCfg); err != nil {
			m.shutdown()
			return fmt.Errorf("failed to create pool %q: %w", poolCfg.Name, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.logger.Info("Starting metrics server")
		return m.exporter.Start(gCtx)
	})

	m.logger.Info("Manager started",
		zap.Int("pools", len(m.cfg.Pools)),
		zap.Duration("startup_time", time.Since(m.startTime)))

	err := g.Wait()
	m.shutdown()

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	if err != nil && err != context.Canceled {
		m.logger.Error("Manager stopped with error", zap.Error(err))
		return err
	}
	m.logger.Info("Manager stopped gracefully")
	return nil
}

// shutdown tears components down in dependency order.
func (m *Manager) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.registry.Close(); err != nil {
		m.logger.Error("Failed to close pool registry", zap.Error(err))
	}
	if err := m.storage.Stop(shutdownCtx); err != nil {
		m.logger.Error("Failed to stop storage", zap.Error(err))
	}
	if err := m.telemetry.Stop(shutdownCtx); err != nil {
		m.logger.Error("Failed to stop telemetry", zap.Error(err))
	}
}

// IsRunning reports whether Run is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
