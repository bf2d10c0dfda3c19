package loadtest

import (
	"context"
	"testing"
	"time"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/driver"
	"github.com/cboxdk/dbpool-manager/internal/pool"
)

func testPool(t *testing.T) *pool.Pool {
	t.Helper()
	cfg := config.PoolConfig{
		Name:             "loadtest",
		ConnectionString: ":memory:",
		MinConnections:   2,
		MaxConnections:   10,
		AcquireTimeout:   time.Second,
	}
	p, err := pool.New(context.Background(), cfg, driver.NewMock(), nil)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestRunValidation(t *testing.T) {
	tester := New(testPool(t), nil)
	ctx := context.Background()

	if _, err := tester.Run(ctx, Options{Concurrency: 0, Duration: time.Second}); err == nil {
		t.Error("Expected error for zero concurrency")
	}
	if _, err := tester.Run(ctx, Options{Concurrency: 1, Duration: 0}); err == nil {
		t.Error("Expected error for zero duration")
	}
}

func TestRunHealthyPoolGradesA(t *testing.T) {
	tester := New(testPool(t), nil)

	res, err := tester.Run(context.Background(), Options{
		Concurrency: 4,
		Duration:    400 * time.Millisecond,
		TargetRPS:   400,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.TotalRequests == 0 {
		t.Fatal("Expected requests to complete")
	}
	if res.TotalErrors != 0 {
		t.Errorf("Expected no errors, got %d", res.TotalErrors)
	}
	if res.ErrorRate != 0 {
		t.Errorf("Expected zero error rate, got %v", res.ErrorRate)
	}
	if res.Grade != GradeA {
		t.Errorf("Expected grade A for an uncontended pool, got %s (avg %.1fms, util %.2f)",
			res.Grade, res.AvgResponseTimeMs, res.AvgUtilization)
	}
	if res.RequestsPerSecond <= 0 {
		t.Errorf("Expected positive throughput, got %v", res.RequestsPerSecond)
	}
	if res.P50ResponseTimeMs > res.P99ResponseTimeMs {
		t.Errorf("Expected p50 <= p99, got %v > %v", res.P50ResponseTimeMs, res.P99ResponseTimeMs)
	}
	if res.Concurrency != 4 {
		t.Errorf("Expected concurrency echoed back, got %d", res.Concurrency)
	}
}

func TestRunCountsQueryErrors(t *testing.T) {
	mock := driver.NewMock()
	cfg := config.PoolConfig{
		Name:             "loadtest-errors",
		ConnectionString: ":memory:",
		MinConnections:   1,
		MaxConnections:   4,
		AcquireTimeout:   time.Second,
	}
	p, err := pool.New(context.Background(), cfg, mock, nil)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	defer p.Close()

	// Statement cache means the query is prepared once and then executed
	// from the cached handle; fail the execution path persistently.
	mock.FailQuery("SELECT 1", context.DeadlineExceeded, -1)

	tester := New(p, nil)
	res, err := tester.Run(context.Background(), Options{
		Concurrency: 2,
		Duration:    200 * time.Millisecond,
		TargetRPS:   200,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.TotalErrors == 0 {
		t.Error("Expected query errors to be counted")
	}
	if res.Grade == GradeA {
		t.Errorf("Expected degraded grade with 100%% errors, got %s", res.Grade)
	}
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		name        string
		errorRate   float64
		avgMs       float64
		utilization float64
		want        Grade
	}{
		{name: "pristine", errorRate: 0, avgMs: 5, utilization: 0.2, want: GradeA},
		{name: "at A boundary", errorRate: 0.009, avgMs: 49, utilization: 0.79, want: GradeA},
		{name: "slow but clean", errorRate: 0, avgMs: 80, utilization: 0.5, want: GradeB},
		{name: "hot pool", errorRate: 0, avgMs: 20, utilization: 0.85, want: GradeB},
		{name: "some errors", errorRate: 0.08, avgMs: 150, utilization: 0.5, want: GradeC},
		{name: "saturated", errorRate: 0.15, avgMs: 400, utilization: 0.99, want: GradeD},
		{name: "failing", errorRate: 0.5, avgMs: 400, utilization: 0.99, want: GradeF},
		{name: "too slow", errorRate: 0, avgMs: 600, utilization: 0.1, want: GradeF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GradeFor(tt.errorRate, tt.avgMs, tt.utilization); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPercentileMs(t *testing.T) {
	latencies := []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
		4 * time.Millisecond,
		100 * time.Millisecond,
	}

	if got := percentileMs(latencies, 0.50); got != 3 {
		t.Errorf("Expected p50 of 3ms, got %v", got)
	}
	if got := percentileMs(latencies, 0.99); got != 4 {
		t.Errorf("Expected p99 of 4ms, got %v", got)
	}
	if got := percentileMs(latencies, 1.0); got != 100 {
		t.Errorf("Expected max of 100ms, got %v", got)
	}
	if got := percentileMs(nil, 0.95); got != 0 {
		t.Errorf("Expected 0 for empty input, got %v", got)
	}
}
