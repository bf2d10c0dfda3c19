// Package health runs periodic validation passes over a pool's idle
// connections, reaps idle and excess connections, and derives a pool-level
// health verdict from the results.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cboxdk/dbpool-manager/internal/pool"
	"github.com/cboxdk/dbpool-manager/internal/telemetry"
)

// validationConcurrency bounds how many validation queries a single pass
// runs in parallel.
const validationConcurrency = 4

// Sample summarizes one validation pass.
type Sample struct {
	Pool    string    `json:"pool"`
	Time    time.Time `json:"time"`
	Checked int       `json:"checked"`
	Passed  int       `json:"passed"`
	Failed  int       `json:"failed"`
	Reaped  int       `json:"reaped"`
	Suspect int       `json:"suspect"`
	Healthy bool      `json:"healthy"`
}

// Sink receives completed pass samples, typically for persistence.
type Sink interface {
	RecordHealthSample(ctx context.Context, s Sample) error
}

// Monitor supervises one pool. It never touches in-use connections; those
// are validated lazily on release by the pool itself.
type Monitor struct {
	pool   *pool.Pool
	logger *zap.Logger
	sink   Sink
	trace  *telemetry.TraceHelper

	mu      sync.Mutex
	last    Sample
	hasLast bool
}

// New creates a monitor for p. sink may be nil.
func New(p *pool.Pool, logger *zap.Logger, sink Sink) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		pool:   p,
		logger: logger.Named("health").With(zap.String("pool", p.Name())),
		sink:   sink,
		trace:  telemetry.NewTraceHelper("dbpool-manager"),
	}
}

// Run executes passes on the configured health check interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.pool.Config().HealthCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Health monitor started",
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			_ = m.trace.TraceHealthPassFunc(ctx, m.pool.Name(),
				func(ctx context.Context) error {
					m.Pass(ctx)
					return nil
				})
		}
	}
}

// Pass runs one full validation pass: retry any stalled floor
// replenishment, validate idle connections due for a check, reap idle and
// excess connections, then re-derive pool health.
func (m *Monitor) Pass(ctx context.Context) Sample {
	m.pool.EnsureMinConnections()

	claimed := m.pool.ClaimDueForValidation(0)
	timeout := m.pool.ValidationTimeout()

	var mu sync.Mutex
	passed, failed := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(validationConcurrency)
	for _, c := range claimed {
		c := c
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, timeout)
			err := c.Validate(cctx)
			cancel()
			m.pool.CompleteValidation(c, err == nil)

			mu.Lock()
			if err == nil {
				passed++
			} else {
				failed++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // validation outcomes are tallied above

	reaped := m.pool.ReapIdle()
	snap := m.pool.Health()

	s := Sample{
		Pool:    m.pool.Name(),
		Time:    time.Now(),
		Checked: len(claimed),
		Passed:  passed,
		Failed:  failed,
		Reaped:  reaped,
		Suspect: snap.SuspectCount,
		Healthy: evaluate(snap),
	}

	m.mu.Lock()
	m.last = s
	m.hasLast = true
	m.mu.Unlock()

	if s.Failed > 0 || !s.Healthy {
		m.logger.Warn("Validation pass found problems",
			zap.Int("checked", s.Checked),
			zap.Int("failed", s.Failed),
			zap.Int("suspect", s.Suspect),
			zap.Bool("healthy", s.Healthy))
	} else {
		m.logger.Debug("Validation pass complete",
			zap.Int("checked", s.Checked),
			zap.Int("reaped", s.Reaped))
	}

	if m.sink != nil {
		if err := m.sink.RecordHealthSample(ctx, s); err != nil {
			m.logger.Warn("Failed to persist health sample", zap.Error(err))
		}
	}
	return s
}

// Healthy reports the verdict of the most recent pass. A pool with no
// completed pass yet is considered healthy.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasLast {
		return true
	}
	return m.last.Healthy
}

// Last returns the most recent pass sample.
func (m *Monitor) Last() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.hasLast
}

// evaluate derives pool health: unhealthy when suspect connections exceed
// half the floor, when connection creation is failing, or when the pool is
// closed.
func evaluate(snap pool.HealthSnapshot) bool {
	if snap.Closed || snap.CreationDegraded {
		return false
	}
	return snap.SuspectCount*2 <= snap.CurrentMin
}
