// Package scaler adjusts a pool's maximum size in response to sustained
// utilization, with hysteresis between the thresholds and a minimum spacing
// between adjustments so the pool does not oscillate.
package scaler

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cboxdk/dbpool-manager/internal/pool"
	"github.com/cboxdk/dbpool-manager/internal/telemetry"
)

// Direction labels which way a scaling event moved the pool.
type Direction string

const (
	ScaleUp   Direction = "up"
	ScaleDown Direction = "down"
)

// Event records one applied scaling decision.
type Event struct {
	Pool        string    `json:"pool"`
	Time        time.Time `json:"time"`
	Direction   Direction `json:"direction"`
	FromMax     int       `json:"from_max"`
	ToMax       int       `json:"to_max"`
	Utilization float64   `json:"utilization"`
	Reason      string    `json:"reason"`
}

// Sink receives applied scaling events, typically for persistence.
type Sink interface {
	RecordScalingEvent(ctx context.Context, ev Event) error
}

// eventHistory is how many recent events are kept in memory for the API
// and the advisor.
const eventHistory = 100

// Scaler evaluates one pool's utilization on a fixed interval and resizes
// its maximum within [min_connections, hard_ceiling].
type Scaler struct {
	pool   *pool.Pool
	logger *zap.Logger
	sink   Sink
	trace  *telemetry.TraceHelper

	mu        sync.Mutex
	lastScale time.Time
	events    []Event
}

// New creates a scaler for p. sink may be nil.
func New(p *pool.Pool, logger *zap.Logger, sink Sink) *Scaler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scaler{
		pool:   p,
		logger: logger.Named("scaler").With(zap.String("pool", p.Name())),
		sink:   sink,
		trace:  telemetry.NewTraceHelper("dbpool-manager"),
	}
}

// Run evaluates on the configured interval until ctx is cancelled.
func (s *Scaler) Run(ctx context.Context) error {
	interval := s.pool.Config().ScaleEvalInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Scaler started",
		zap.Duration("eval_interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scaler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Evaluate(ctx, time.Now())
		}
	}
}

// Evaluate applies at most one scaling decision for the given instant.
// It returns the applied event, or nil when no change was warranted.
func (s *Scaler) Evaluate(ctx context.Context, now time.Time) *Event {
	cfg := s.pool.Config()
	stats := s.pool.Stats()
	util := stats.UtilizationRate

	s.mu.Lock()
	sinceLast := now.Sub(s.lastScale)
	s.mu.Unlock()

	if !s.lastScaleZero() && sinceLast < cfg.MinScaleInterval {
		return nil
	}

	var (
		target    int
		direction Direction
		reason    string
	)

	switch {
	case util > cfg.LoadThresholdHigh && stats.CurrentMax < cfg.HardCeiling:
		target = scaleUpTarget(stats.CurrentMax, cfg.ScaleUpFactor, cfg.HardCeiling)
		direction = ScaleUp
		reason = "utilization above high threshold"
	case util < cfg.LoadThresholdLow && stats.CurrentMax > stats.CurrentMin:
		target = scaleDownTarget(stats.CurrentMax, cfg.ScaleDownFactor, stats.CurrentMin)
		direction = ScaleDown
		reason = "utilization below low threshold"
	default:
		return nil
	}

	if target == stats.CurrentMax {
		return nil
	}

	err := s.trace.TraceScalingDecisionFunc(ctx, s.pool.Name(),
		stats.CurrentMax, target, string(direction),
		func(context.Context) error {
			return s.pool.Resize(stats.CurrentMin, target)
		})
	if err != nil {
		s.logger.Warn("Failed to resize pool",
			zap.Int("target_max", target),
			zap.Error(err))
		return nil
	}

	ev := Event{
		Pool:        s.pool.Name(),
		Time:        now,
		Direction:   direction,
		FromMax:     stats.CurrentMax,
		ToMax:       target,
		Utilization: util,
		Reason:      reason,
	}

	s.mu.Lock()
	s.lastScale = now
	s.events = append(s.events, ev)
	if len(s.events) > eventHistory {
		s.events = s.events[len(s.events)-eventHistory:]
	}
	s.mu.Unlock()

	s.logger.Info("Pool resized",
		zap.String("direction", string(direction)),
		zap.Int("from_max", ev.FromMax),
		zap.Int("to_max", ev.ToMax),
		zap.Float64("utilization", util))

	if s.sink != nil {
		if err := s.sink.RecordScalingEvent(ctx, ev); err != nil {
			s.logger.Warn("Failed to persist scaling event", zap.Error(err))
		}
	}
	return &ev
}

func (s *Scaler) lastScaleZero() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScale.IsZero()
}

// Events returns the recent scaling events, oldest first.
func (s *Scaler) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// scaleUpTarget grows max by the configured factor, rounding half away from
// zero, always by at least one, never past the hard ceiling.
func scaleUpTarget(current int, factor float64, ceiling int) int {
	target := int(math.Round(float64(current) * factor))
	if target <= current {
		target = current + 1
	}
	if target > ceiling {
		target = ceiling
	}
	return target
}

// scaleDownTarget shrinks max by the configured factor, rounding down,
// never below the current floor.
func scaleDownTarget(current int, factor float64, floor int) int {
	target := int(math.Floor(float64(current) * factor))
	if target < floor {
		target = floor
	}
	return target
}
