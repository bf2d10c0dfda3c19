// Package storage persists pool time-series data to SQLite: pool stats
// samples, health samples, statement cache samples, scaling events and load
// test results. Each record is a flat append-only row keyed by pool name
// and timestamp, enough for dashboards and the advisor's historical view.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/health"
	"github.com/cboxdk/dbpool-manager/internal/loadtest"
	"github.com/cboxdk/dbpool-manager/internal/pool"
	"github.com/cboxdk/dbpool-manager/internal/resilience"
	"github.com/cboxdk/dbpool-manager/internal/scaler"
)

// cleanupInterval is how often expired samples are purged.
const cleanupInterval = time.Hour

// SQLiteStorage is the SQLite-backed time-series store.
type SQLiteStorage struct {
	cfg     config.StorageConfig
	logger  *zap.Logger
	db      *sql.DB
	breaker *resilience.CircuitBreaker

	mu            sync.RWMutex
	running       bool
	cleanupTicker *time.Ticker
}

// NewSQLiteStorage opens (creating if needed) the database and initializes
// the schema.
func NewSQLiteStorage(cfg config.StorageConfig, logger *zap.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_temp_store=MEMORY", cfg.DatabasePath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if cfg.DatabasePath == ":memory:" {
		// Each sql.DB connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStorage{
		cfg:     cfg,
		logger:  logger.Named("storage"),
		db:      db,
		breaker: resilience.NewCircuitBreaker("sample-store", resilience.DefaultConfig(), logger),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Start launches the background retention cleanup.
func (s *SQLiteStorage) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("storage is already running")
	}
	s.running = true
	s.cleanupTicker = time.NewTicker(cleanupInterval)
	s.mu.Unlock()

	s.logger.Info("Storage started",
		zap.String("database_path", s.cfg.DatabasePath),
		zap.Duration("retention", s.cfg.Retention))

	go s.cleanupLoop(ctx)
	return nil
}

// Stop halts background work and closes the database.
func (s *SQLiteStorage) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return s.db.Close()
	}
	s.running = false
	s.cleanupTicker.Stop()
	s.mu.Unlock()

	s.logger.Info("Storage stopped")
	return s.db.Close()
}

// insert runs one append statement through the sample-store circuit
// breaker, so a broken database degrades to fast failures instead of
// blocking every sampler on busy timeouts.
func (s *SQLiteStorage) insert(ctx context.Context, query string, args ...interface{}) error {
	return s.breaker.Execute(func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// RecordPoolSample appends one pool stats sample.
func (s *SQLiteStorage) RecordPoolSample(ctx context.Context, stats pool.Stats) error {
	err := s.insert(ctx, `
		INSERT INTO pool_stats_samples (
			pool_name, timestamp, active_count, idle_count, live_count,
			waiting_count, current_min, current_max, utilization_rate,
			avg_acquire_time_ms, total_acquired, total_timeouts,
			total_created, total_retired
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.Name, time.Now().Unix(), stats.ActiveCount, stats.IdleCount,
		stats.LiveCount, stats.WaitingCount, stats.CurrentMin,
		stats.CurrentMax, stats.UtilizationRate, stats.AvgAcquireTimeMs,
		stats.TotalAcquired, stats.TotalTimeouts, stats.TotalCreated,
		stats.TotalRetired)
	if err != nil {
		return fmt.Errorf("failed to record pool sample: %w", err)
	}
	return nil
}

// RecordCacheSample appends one statement cache sample.
func (s *SQLiteStorage) RecordCacheSample(ctx context.Context, poolName string, cs pool.CacheStats) error {
	err := s.insert(ctx, `
		INSERT INTO cache_samples (
			pool_name, timestamp, hits, misses, hit_rate, size, capacity
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		poolName, time.Now().Unix(), cs.Hits, cs.Misses, cs.HitRate,
		cs.Size, cs.Capacity)
	if err != nil {
		return fmt.Errorf("failed to record cache sample: %w", err)
	}
	return nil
}

// RecordHealthSample implements health.Sink.
func (s *SQLiteStorage) RecordHealthSample(ctx context.Context, hs health.Sample) error {
	err := s.insert(ctx, `
		INSERT INTO health_samples (
			pool_name, timestamp, checked, passed, failed, reaped,
			suspect, healthy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hs.Pool, hs.Time.Unix(), hs.Checked, hs.Passed, hs.Failed,
		hs.Reaped, hs.Suspect, hs.Healthy)
	if err != nil {
		return fmt.Errorf("failed to record health sample: %w", err)
	}
	return nil
}

// RecordScalingEvent implements scaler.Sink.
func (s *SQLiteStorage) RecordScalingEvent(ctx context.Context, ev scaler.Event) error {
	err := s.insert(ctx, `
		INSERT INTO scaling_events (
			pool_name, timestamp, direction, from_max, to_max,
			utilization, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Pool, ev.Time.Unix(), string(ev.Direction), ev.FromMax,
		ev.ToMax, ev.Utilization, ev.Reason)
	if err != nil {
		return fmt.Errorf("failed to record scaling event: %w", err)
	}
	return nil
}

// RecordLoadTestResult appends one load test result with its sizing advice.
func (s *SQLiteStorage) RecordLoadTestResult(ctx context.Context, res *loadtest.Result, recommendedMax, recommendedMin int, notes string) error {
	err := s.insert(ctx, `
		INSERT INTO load_test_results (
			pool_name, timestamp, concurrency, duration_ms,
			total_requests, total_errors, error_rate,
			avg_response_time_ms, p95_response_time_ms,
			p99_response_time_ms, requests_per_second,
			avg_utilization, peak_utilization, grade,
			recommended_max, recommended_min, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.Pool, res.Time.Unix(), res.Concurrency,
		res.Duration.Milliseconds(), res.TotalRequests, res.TotalErrors,
		res.ErrorRate, res.AvgResponseTimeMs, res.P95ResponseTimeMs,
		res.P99ResponseTimeMs, res.RequestsPerSecond, res.AvgUtilization,
		res.PeakUtilization, string(res.Grade), recommendedMax,
		recommendedMin, notes)
	if err != nil {
		return fmt.Errorf("failed to record load test result: %w", err)
	}
	return nil
}

// PoolSampleRow is one persisted pool stats sample.
type PoolSampleRow struct {
	Pool            string
	Time            time.Time
	ActiveCount     int
	IdleCount       int
	CurrentMax      int
	UtilizationRate float64
	AvgAcquireMs    float64
}

// PoolSamples returns samples for a pool since the given time, oldest
// first.
func (s *SQLiteStorage) PoolSamples(ctx context.Context, poolName string, since time.Time) ([]PoolSampleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, active_count, idle_count, current_max,
		       utilization_rate, avg_acquire_time_ms
		FROM pool_stats_samples
		WHERE pool_name = ? AND timestamp >= ?
		ORDER BY timestamp ASC`,
		poolName, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query pool samples: %w", err)
	}
	defer rows.Close()

	var out []PoolSampleRow
	for rows.Next() {
		r := PoolSampleRow{Pool: poolName}
		var ts int64
		if err := rows.Scan(&ts, &r.ActiveCount, &r.IdleCount,
			&r.CurrentMax, &r.UtilizationRate, &r.AvgAcquireMs); err != nil {
			return nil, fmt.Errorf("failed to scan pool sample: %w", err)
		}
		r.Time = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ScalingEvents returns the most recent scaling events for a pool, newest
// first, up to limit.
func (s *SQLiteStorage) ScalingEvents(ctx context.Context, poolName string, limit int) ([]scaler.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, direction, from_max, to_max, utilization, reason
		FROM scaling_events
		WHERE pool_name = ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		poolName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scaling events: %w", err)
	}
	defer rows.Close()

	var out []scaler.Event
	for rows.Next() {
		ev := scaler.Event{Pool: poolName}
		var ts int64
		var dir string
		if err := rows.Scan(&ts, &dir, &ev.FromMax, &ev.ToMax,
			&ev.Utilization, &ev.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan scaling event: %w", err)
		}
		ev.Time = time.Unix(ts, 0)
		ev.Direction = scaler.Direction(dir)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LoadTestRow is one persisted load test result.
type LoadTestRow struct {
	Pool           string
	Time           time.Time
	Concurrency    int
	TotalRequests  uint64
	ErrorRate      float64
	AvgResponseMs  float64
	Grade          string
	RecommendedMax int
	RecommendedMin int
	Notes          string
}

// LoadTestResults returns the most recent load test results for a pool,
// newest first, up to limit.
func (s *SQLiteStorage) LoadTestResults(ctx context.Context, poolName string, limit int) ([]LoadTestRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, concurrency, total_requests, error_rate,
		       avg_response_time_ms, grade, recommended_max,
		       recommended_min, notes
		FROM load_test_results
		WHERE pool_name = ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		poolName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query load test results: %w", err)
	}
	defer rows.Close()

	var out []LoadTestRow
	for rows.Next() {
		r := LoadTestRow{Pool: poolName}
		var ts int64
		if err := rows.Scan(&ts, &r.Concurrency, &r.TotalRequests,
			&r.ErrorRate, &r.AvgResponseMs, &r.Grade, &r.RecommendedMax,
			&r.RecommendedMin, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan load test result: %w", err)
		}
		r.Time = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes samples older than the retention window and reclaims
// space.
func (s *SQLiteStorage) Cleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.Retention).Unix()

	tables := []string{
		"pool_stats_samples",
		"cache_samples",
		"health_samples",
		"scaling_events",
		"load_test_results",
	}

	var deleted int64
	for _, table := range tables {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff)
		if err != nil {
			return fmt.Errorf("failed to clean up %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}
	}

	if deleted > 0 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			s.logger.Warn("Failed to vacuum database", zap.Error(err))
		}
		s.logger.Info("Cleaned up expired samples",
			zap.Int64("rows_deleted", deleted))
	}
	return nil
}

func (s *SQLiteStorage) cleanupLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.cleanupTicker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.logger.Error("Cleanup failed", zap.Error(err))
			}
		}
	}
}

// initSchema creates the time-series tables.
func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pool_stats_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_name TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		active_count INTEGER NOT NULL,
		idle_count INTEGER NOT NULL,
		live_count INTEGER NOT NULL,
		waiting_count INTEGER NOT NULL,
		current_min INTEGER NOT NULL,
		current_max INTEGER NOT NULL,
		utilization_rate REAL NOT NULL,
		avg_acquire_time_ms REAL NOT NULL,
		total_acquired INTEGER NOT NULL,
		total_timeouts INTEGER NOT NULL,
		total_created INTEGER NOT NULL,
		total_retired INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pool_stats_pool_time
		ON pool_stats_samples(pool_name, timestamp);

	CREATE TABLE IF NOT EXISTS cache_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_name TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		hits INTEGER NOT NULL,
		misses INTEGER NOT NULL,
		hit_rate REAL NOT NULL,
		size INTEGER NOT NULL,
		capacity INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_samples_pool_time
		ON cache_samples(pool_name, timestamp);

	CREATE TABLE IF NOT EXISTS health_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_name TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		checked INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		reaped INTEGER NOT NULL,
		suspect INTEGER NOT NULL,
		healthy INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_health_samples_pool_time
		ON health_samples(pool_name, timestamp);

	CREATE TABLE IF NOT EXISTS scaling_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_name TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		direction TEXT NOT NULL,
		from_max INTEGER NOT NULL,
		to_max INTEGER NOT NULL,
		utilization REAL NOT NULL,
		reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scaling_events_pool_time
		ON scaling_events(pool_name, timestamp);

	CREATE TABLE IF NOT EXISTS load_test_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pool_name TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		concurrency INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		total_requests INTEGER NOT NULL,
		total_errors INTEGER NOT NULL,
		error_rate REAL NOT NULL,
		avg_response_time_ms REAL NOT NULL,
		p95_response_time_ms REAL NOT NULL,
		p99_response_time_ms REAL NOT NULL,
		requests_per_second REAL NOT NULL,
		avg_utilization REAL NOT NULL,
		peak_utilization REAL NOT NULL,
		grade TEXT NOT NULL,
		recommended_max INTEGER NOT NULL,
		recommended_min INTEGER NOT NULL,
		notes TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_load_test_results_pool_time
		ON load_test_results(pool_name, timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Debug("Database schema initialized")
	return nil
}
