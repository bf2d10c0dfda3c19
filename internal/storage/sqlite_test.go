package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/health"
	"github.com/cboxdk/dbpool-manager/internal/loadtest"
	"github.com/cboxdk/dbpool-manager/internal/pool"
	"github.com/cboxdk/dbpool-manager/internal/registry"
	"github.com/cboxdk/dbpool-manager/internal/scaler"
)

// The registry persists through this exact surface.
var _ registry.Store = (*SQLiteStorage)(nil)

func newTestStorage(t *testing.T, retention time.Duration) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(config.StorageConfig{
		DatabasePath:   filepath.Join(t.TempDir(), "samples.db"),
		SampleInterval: time.Second,
		Retention:      retention,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestRecordAndQueryPoolSamples(t *testing.T) {
	s := newTestStorage(t, 24*time.Hour)
	ctx := context.Background()

	stats := pool.Stats{
		Name:             "orders",
		ActiveCount:      3,
		IdleCount:        2,
		LiveCount:        5,
		CurrentMin:       5,
		CurrentMax:       10,
		UtilizationRate:  0.3,
		AvgAcquireTimeMs: 1.5,
		TotalAcquired:    100,
	}
	if err := s.RecordPoolSample(ctx, stats); err != nil {
		t.Fatalf("RecordPoolSample: %v", err)
	}

	rows, err := s.PoolSamples(ctx, "orders", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("PoolSamples: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 sample, got %d", len(rows))
	}
	r := rows[0]
	if r.ActiveCount != 3 || r.IdleCount != 2 || r.CurrentMax != 10 {
		t.Errorf("Unexpected row: %+v", r)
	}
	if r.UtilizationRate != 0.3 {
		t.Errorf("Expected utilization 0.3, got %v", r.UtilizationRate)
	}

	// Other pools stay separate.
	other, err := s.PoolSamples(ctx, "billing", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("PoolSamples other: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no samples for other pool, got %d", len(other))
	}
}

func TestRecordCacheAndHealthSamples(t *testing.T) {
	s := newTestStorage(t, 24*time.Hour)
	ctx := context.Background()

	if err := s.RecordCacheSample(ctx, "orders", pool.CacheStats{
		Hits: 90, Misses: 10, HitRate: 0.9, Size: 40, Capacity: 256,
	}); err != nil {
		t.Fatalf("RecordCacheSample: %v", err)
	}

	if err := s.RecordHealthSample(ctx, health.Sample{
		Pool: "orders", Time: time.Now(),
		Checked: 5, Passed: 4, Failed: 1, Suspect: 1, Healthy: true,
	}); err != nil {
		t.Fatalf("RecordHealthSample: %v", err)
	}
}

func TestRecordAndQueryScalingEvents(t *testing.T) {
	s := newTestStorage(t, 24*time.Hour)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, to := range []int{12, 14, 17} {
		ev := scaler.Event{
			Pool:        "orders",
			Time:        base.Add(time.Duration(i) * time.Second),
			Direction:   scaler.ScaleUp,
			FromMax:     10,
			ToMax:       to,
			Utilization: 0.9,
			Reason:      "utilization above high threshold",
		}
		if err := s.RecordScalingEvent(ctx, ev); err != nil {
			t.Fatalf("RecordScalingEvent %d: %v", i, err)
		}
	}

	events, err := s.ScalingEvents(ctx, "orders", 2)
	if err != nil {
		t.Fatalf("ScalingEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected limit of 2 events, got %d", len(events))
	}
	// Newest first.
	if events[0].ToMax != 17 {
		t.Errorf("Expected newest event first, got to_max=%d", events[0].ToMax)
	}
	if events[0].Direction != scaler.ScaleUp {
		t.Errorf("Expected direction preserved, got %s", events[0].Direction)
	}
}

func TestRecordAndQueryLoadTestResults(t *testing.T) {
	s := newTestStorage(t, 24*time.Hour)
	ctx := context.Background()

	res := &loadtest.Result{
		Pool:              "orders",
		Time:              time.Now(),
		Concurrency:       50,
		Duration:          5 * time.Second,
		TotalRequests:     24000,
		TotalErrors:       12,
		ErrorRate:         0.0005,
		AvgResponseTimeMs: 4.2,
		P95ResponseTimeMs: 9.1,
		P99ResponseTimeMs: 14.0,
		RequestsPerSecond: 4800,
		AvgUtilization:    0.45,
		PeakUtilization:   0.7,
		Grade:             loadtest.GradeA,
	}
	if err := s.RecordLoadTestResult(ctx, res, 50, 10, "Pool size is appropriate for the tested load."); err != nil {
		t.Fatalf("RecordLoadTestResult: %v", err)
	}

	rows, err := s.LoadTestResults(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("LoadTestResults: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(rows))
	}
	r := rows[0]
	if r.Grade != "A" {
		t.Errorf("Expected grade A, got %s", r.Grade)
	}
	if r.Concurrency != 50 || r.TotalRequests != 24000 {
		t.Errorf("Unexpected row: %+v", r)
	}
	if r.RecommendedMax != 50 || r.RecommendedMin != 10 {
		t.Errorf("Expected sizing advice persisted, got %d/%d", r.RecommendedMax, r.RecommendedMin)
	}
	if r.Notes == "" {
		t.Error("Expected notes persisted")
	}
}

func TestCleanupRemovesExpiredSamples(t *testing.T) {
	// A negative retention places the cutoff in the future, expiring
	// everything already written.
	s := newTestStorage(t, -time.Minute)
	ctx := context.Background()

	if err := s.RecordPoolSample(ctx, pool.Stats{Name: "orders"}); err != nil {
		t.Fatalf("RecordPoolSample: %v", err)
	}
	if err := s.RecordScalingEvent(ctx, scaler.Event{Pool: "orders", Time: time.Now()}); err != nil {
		t.Fatalf("RecordScalingEvent: %v", err)
	}

	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	rows, err := s.PoolSamples(ctx, "orders", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PoolSamples: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected samples purged, got %d", len(rows))
	}
	events, err := s.ScalingEvents(ctx, "orders", 10)
	if err != nil {
		t.Fatalf("ScalingEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected events purged, got %d", len(events))
	}
}

func TestStartStop(t *testing.T) {
	s, err := NewSQLiteStorage(config.StorageConfig{
		DatabasePath: filepath.Join(t.TempDir(), "samples.db"),
		Retention:    time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("Expected error on double start")
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
