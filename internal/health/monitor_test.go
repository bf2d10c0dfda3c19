package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/driver"
	"github.com/cboxdk/dbpool-manager/internal/pool"
)

// recordingSink captures persisted samples.
type recordingSink struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recordingSink) RecordHealthSample(ctx context.Context, s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func newMonitoredPool(t *testing.T, mock *driver.Mock, mutate func(*config.PoolConfig)) *pool.Pool {
	t.Helper()
	cfg := config.PoolConfig{
		Name:                "health-test",
		ConnectionString:    ":memory:",
		MinConnections:      2,
		MaxConnections:      4,
		AcquireTimeout:      time.Second,
		HealthCheckInterval: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := pool.New(context.Background(), cfg, mock, nil)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPassAllHealthy(t *testing.T) {
	mock := driver.NewMock()
	p := newMonitoredPool(t, mock, nil)
	sink := &recordingSink{}
	m := New(p, nil, sink)

	time.Sleep(5 * time.Millisecond) // make the idle connections due

	s := m.Pass(context.Background())
	if s.Checked != 2 {
		t.Errorf("Expected 2 checked, got %d", s.Checked)
	}
	if s.Passed != 2 || s.Failed != 0 {
		t.Errorf("Expected 2 passed and 0 failed, got %d/%d", s.Passed, s.Failed)
	}
	if !s.Healthy {
		t.Error("Expected healthy verdict")
	}
	if !m.Healthy() {
		t.Error("Expected monitor to report healthy")
	}
	if sink.count() != 1 {
		t.Errorf("Expected 1 persisted sample, got %d", sink.count())
	}
}

func TestPassFailuresMarkSuspect(t *testing.T) {
	mock := driver.NewMock()
	p := newMonitoredPool(t, mock, nil)
	m := New(p, nil, nil)

	time.Sleep(5 * time.Millisecond)
	mock.FailQuery("SELECT 1", errors.New("connection reset"), -1)

	s := m.Pass(context.Background())
	if s.Failed != 2 {
		t.Errorf("Expected 2 failed, got %d", s.Failed)
	}
	if s.Suspect != 2 {
		t.Errorf("Expected 2 suspect, got %d", s.Suspect)
	}
	// Two suspects against a floor of two is unhealthy.
	if s.Healthy {
		t.Error("Expected unhealthy verdict")
	}
	if m.Healthy() {
		t.Error("Expected monitor to report unhealthy")
	}

	// Recovery on the next pass clears the suspects.
	mock.ClearQuery("SELECT 1")
	s = m.Pass(context.Background())
	if s.Failed != 0 {
		t.Errorf("Expected no failures after recovery, got %d", s.Failed)
	}
	if !s.Healthy {
		t.Error("Expected healthy verdict after recovery")
	}
}

func TestPassRetiresAfterMaxFailedChecks(t *testing.T) {
	mock := driver.NewMock()
	p := newMonitoredPool(t, mock, func(cfg *config.PoolConfig) {
		cfg.MaxFailedHealthChecks = 2
	})
	m := New(p, nil, nil)

	time.Sleep(5 * time.Millisecond)
	mock.FailQuery("SELECT 1", errors.New("connection reset"), -1)

	m.Pass(context.Background()) // failure streak 1
	m.Pass(context.Background()) // streak 2: retire and replace

	if got := p.Stats().TotalRetired; got < 2 {
		t.Errorf("Expected both connections retired, got %d", got)
	}

	// Replacements come up (creation succeeds, only the validation query
	// fails) and the floor is restored.
	mock.ClearQuery("SELECT 1")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Stats().LiveCount == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Stats().LiveCount; got != 2 {
		t.Errorf("Expected floor restored to 2, got %d", got)
	}
}

func TestHealthyBeforeFirstPass(t *testing.T) {
	mock := driver.NewMock()
	p := newMonitoredPool(t, mock, nil)
	m := New(p, nil, nil)

	if !m.Healthy() {
		t.Error("Expected healthy before the first pass")
	}
	if _, ok := m.Last(); ok {
		t.Error("Expected no last sample before the first pass")
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		snap pool.HealthSnapshot
		want bool
	}{
		{
			name: "clean pool",
			snap: pool.HealthSnapshot{LiveCount: 5, CurrentMin: 5},
			want: true,
		},
		{
			name: "few suspects tolerated",
			snap: pool.HealthSnapshot{LiveCount: 10, SuspectCount: 2, CurrentMin: 5},
			want: true,
		},
		{
			name: "too many suspects",
			snap: pool.HealthSnapshot{LiveCount: 10, SuspectCount: 3, CurrentMin: 5},
			want: false,
		},
		{
			name: "creation degraded",
			snap: pool.HealthSnapshot{LiveCount: 5, CurrentMin: 5, CreationDegraded: true},
			want: false,
		},
		{
			name: "closed pool",
			snap: pool.HealthSnapshot{Closed: true},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evaluate(tt.snap); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
