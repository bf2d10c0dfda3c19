// Package loadtest drives synthetic concurrent traffic against a pool and
// grades the outcome. A test run borrows connections through the normal
// acquire path and never alters pool bounds itself; whatever the scaler
// does during the run is part of the observed result.
package loadtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cboxdk/dbpool-manager/internal/pool"
)

const (
	// defaultWorkerRate paces each worker at 100 requests per second when
	// no explicit target rate is configured, so an idle-latency test does
	// not saturate the pool by spinning.
	defaultWorkerRate = 100

	// utilizationSampleInterval is how often pool utilization is sampled
	// during a run.
	utilizationSampleInterval = 100 * time.Millisecond
)

// Options configures a load test run.
type Options struct {
	// Concurrency is the number of parallel workers. Required, >= 1.
	Concurrency int
	// Duration is how long the workers run. Required, > 0.
	Duration time.Duration
	// Query is executed on each borrowed connection. Defaults to the
	// pool's validation query.
	Query string
	// TargetRPS, when > 0, paces all workers together at this aggregate
	// rate instead of the per-worker default.
	TargetRPS float64
}

// Grade is the A–F performance classification of a test run.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Result summarizes a completed load test.
type Result struct {
	Pool              string        `json:"pool"`
	Time              time.Time     `json:"time"`
	Concurrency       int           `json:"concurrency"`
	Duration          time.Duration `json:"duration"`
	TotalRequests     uint64        `json:"total_requests"`
	TotalErrors       uint64        `json:"total_errors"`
	ErrorRate         float64       `json:"error_rate"`
	AvgResponseTimeMs float64       `json:"avg_response_time_ms"`
	P50ResponseTimeMs float64       `json:"p50_response_time_ms"`
	P95ResponseTimeMs float64       `json:"p95_response_time_ms"`
	P99ResponseTimeMs float64       `json:"p99_response_time_ms"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	AvgUtilization    float64       `json:"avg_utilization"`
	PeakUtilization   float64       `json:"peak_utilization"`
	Grade             Grade         `json:"grade"`
}

// Tester runs load tests against one pool.
type Tester struct {
	pool   *pool.Pool
	logger *zap.Logger
}

// New creates a tester for p.
func New(p *pool.Pool, logger *zap.Logger) *Tester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tester{
		pool:   p,
		logger: logger.Named("loadtest").With(zap.String("pool", p.Name())),
	}
}

// Run executes the load test and returns its graded result. Cancelling ctx
// ends the run early; the partial result is still returned.
func (t *Tester) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1; got %d", opts.Concurrency)
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive; got %s", opts.Duration)
	}
	query := opts.Query
	if query == "" {
		query = t.pool.Config().ValidationQuery
	}

	t.logger.Info("Load test starting",
		zap.Int("concurrency", opts.Concurrency),
		zap.Duration("duration", opts.Duration))

	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var shared *rate.Limiter
	if opts.TargetRPS > 0 {
		shared = rate.NewLimiter(rate.Limit(opts.TargetRPS), opts.Concurrency)
	}

	start := time.Now()
	workers := make([]workerResult, opts.Concurrency)

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < opts.Concurrency; i++ {
		i := i
		g.Go(func() error {
			workers[i] = t.runWorker(gctx, query, shared)
			return nil
		})
	}

	// Utilization sampling alongside the workers.
	var sampleMu sync.Mutex
	var utilSum, utilPeak float64
	utilSamples := 0
	g.Go(func() error {
		ticker := time.NewTicker(utilizationSampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				u := t.pool.Stats().UtilizationRate
				sampleMu.Lock()
				utilSum += u
				if u > utilPeak {
					utilPeak = u
				}
				utilSamples++
				sampleMu.Unlock()
			}
		}
	})
	g.Wait() //nolint:errcheck // workers report through the results slice

	elapsed := time.Since(start)

	var latencies []time.Duration
	var requests, errors uint64
	var latencySum time.Duration
	for _, w := range workers {
		requests += w.requests
		errors += w.errors
		latencySum += w.latencySum
		latencies = append(latencies, w.latencies...)
	}

	res := &Result{
		Pool:          t.pool.Name(),
		Time:          start,
		Concurrency:   opts.Concurrency,
		Duration:      elapsed,
		TotalRequests: requests,
		TotalErrors:   errors,
	}
	if attempts := requests + errors; attempts > 0 {
		res.ErrorRate = float64(errors) / float64(attempts)
	}
	if requests > 0 {
		res.AvgResponseTimeMs = float64(latencySum) / float64(requests) / float64(time.Millisecond)
	}
	if elapsed > 0 {
		res.RequestsPerSecond = float64(requests) / elapsed.Seconds()
	}
	if utilSamples > 0 {
		res.AvgUtilization = utilSum / float64(utilSamples)
		res.PeakUtilization = utilPeak
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	res.P50ResponseTimeMs = percentileMs(latencies, 0.50)
	res.P95ResponseTimeMs = percentileMs(latencies, 0.95)
	res.P99ResponseTimeMs = percentileMs(latencies, 0.99)

	res.Grade = GradeFor(res.ErrorRate, res.AvgResponseTimeMs, res.AvgUtilization)

	t.logger.Info("Load test complete",
		zap.Uint64("total_requests", res.TotalRequests),
		zap.Uint64("total_errors", res.TotalErrors),
		zap.Float64("error_rate", res.ErrorRate),
		zap.Float64("avg_response_time_ms", res.AvgResponseTimeMs),
		zap.Float64("requests_per_second", res.RequestsPerSecond),
		zap.String("grade", string(res.Grade)))
	return res, nil
}

type workerResult struct {
	requests   uint64
	errors     uint64
	latencySum time.Duration
	latencies  []time.Duration
}

// runWorker loops acquire → query → release until the run context expires.
// An acquire timeout or query failure counts as an error; context expiry
// ends the loop without counting.
func (t *Tester) runWorker(ctx context.Context, query string, shared *rate.Limiter) workerResult {
	var w workerResult

	limiter := shared
	if limiter == nil {
		limiter = rate.NewLimiter(defaultWorkerRate, 1)
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return w
		}

		reqStart := time.Now()
		conn, err := t.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return w
			}
			w.errors++
			continue
		}

		err = conn.ExecCached(ctx, query)
		t.pool.Release(conn)
		if err != nil {
			if ctx.Err() != nil {
				return w
			}
			w.errors++
			continue
		}

		latency := time.Since(reqStart)
		w.requests++
		w.latencySum += latency
		w.latencies = append(w.latencies, latency)
	}
}

// GradeFor classifies a run against the fixed threshold table, first match
// wins.
func GradeFor(errorRate, avgResponseMs, utilization float64) Grade {
	switch {
	case errorRate < 0.01 && avgResponseMs < 50 && utilization < 0.80:
		return GradeA
	case errorRate < 0.05 && avgResponseMs < 100 && utilization < 0.90:
		return GradeB
	case errorRate < 0.10 && avgResponseMs < 200 && utilization < 0.95:
		return GradeC
	case errorRate < 0.20 && avgResponseMs < 500:
		return GradeD
	default:
		return GradeF
	}
}

// percentileMs returns the q-th percentile of sorted latencies in
// milliseconds.
func percentileMs(sorted []time.Duration, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return float64(sorted[idx]) / float64(time.Millisecond)
}
