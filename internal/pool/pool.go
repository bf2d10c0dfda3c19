// Package pool implements the adaptive connection pool core: bounded
// checkout and return of physical database connections, eager floor
// maintenance, lifetime and recycling enforcement, per-connection prepared
// statement caching and the claim/complete API the health monitor drives
// validation through.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/driver"
)

const (
	// acquireWindow is the number of recent acquires the rolling average
	// acquire time is computed over.
	acquireWindow = 128

	// creationAttempts bounds the internal retry budget when opening a
	// physical connection.
	creationAttempts = 3

	// creationBaseBackoff is the delay before the second creation attempt;
	// it doubles on each further attempt.
	creationBaseBackoff = 50 * time.Millisecond
)

// Pool manages the physical connections for one named database pool.
//
// All live connections occupy slots in a fixed arena sized to the hard
// ceiling, so a connection's slot index is stable for its whole life and the
// pool never reallocates under load. Callers that time out waiting queue as
// FIFO waiters and are handed a connection directly on release, bypassing
// the idle list.
type Pool struct {
	name   string
	drv    driver.Driver
	logger *zap.Logger

	mu               sync.Mutex
	cfg              config.PoolConfig
	currentMin       int
	currentMax       int
	slots            []*Connection // arena; nil entries are free
	freeSlots        []int
	idle             []*Connection // FIFO, oldest first
	live             int           // occupied slots: idle + in use + validating
	inUse            int
	validating       int
	pending          int // creations in flight
	waiters          *list.List // of chan *Connection, buffered 1
	closed           bool
	replenishing     bool
	creationDegraded bool // last replenish exhausted its retry budget

	totalAcquired    atomic.Uint64
	totalTimeouts    atomic.Uint64
	totalCreated     atomic.Uint64
	totalRetired     atomic.Uint64
	cacheHits        atomic.Uint64
	cacheMisses      atomic.Uint64
	cachedStatements atomic.Int64

	statsMu      sync.Mutex
	acquireTimes [acquireWindow]time.Duration
	acquireIdx   int
	acquireN     int
}

// New creates a pool and synchronously warms it up to min_connections.
// Creation failures during warmup are tolerated as long as at least one
// connection comes up; the pool then fills the floor in the background.
func New(ctx context.Context, cfg config.PoolConfig, drv driver.Driver, logger *zap.Logger) (*Pool, error) {
	config.ApplyPoolDefaults(&cfg)
	if err := config.ValidatePool(&cfg); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:       cfg.Name,
		drv:        drv,
		logger:     logger.Named("pool").With(zap.String("pool", cfg.Name)),
		cfg:        cfg,
		currentMin: cfg.MinConnections,
		currentMax: cfg.MaxConnections,
		slots:      make([]*Connection, cfg.HardCeiling),
		freeSlots:  make([]int, 0, cfg.HardCeiling),
		waiters:    list.New(),
	}
	for i := cfg.HardCeiling - 1; i >= 0; i-- {
		p.freeSlots = append(p.freeSlots, i)
	}

	if err := p.warmUp(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// warmUp opens min_connections concurrently. Partial failure degrades to
// background replenishment; total failure is fatal.
func (p *Pool) warmUp(ctx context.Context) error {
	if p.currentMin == 0 {
		return nil
	}

	conns := make([]driver.Conn, p.currentMin)
	errs := make([]error, p.currentMin)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.currentMin; i++ {
		i := i
		g.Go(func() error {
			conn, err := p.open(gctx)
			conns[i], errs[i] = conn, err
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines report through the slices

	created := 0
	var lastErr error
	p.mu.Lock()
	for i, conn := range conns {
		if conn == nil {
			lastErr = errs[i]
			continue
		}
		c := p.registerLocked(conn)
		p.idle = append(p.idle, c)
		created++
	}
	degraded := created < p.currentMin
	p.creationDegraded = degraded
	p.mu.Unlock()

	if created == 0 {
		return lastErr
	}
	if degraded {
		p.logger.Warn("Pool warmup incomplete, replenishing in background",
			zap.Int("created", created),
			zap.Int("min_connections", p.currentMin),
			zap.Error(lastErr))
		p.maybeReplenish()
	} else {
		p.logger.Info("Pool warmed up",
			zap.Int("connections", created),
			zap.Int("max_connections", p.currentMax))
	}
	return nil
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.name
}

// Config returns a copy of the pool's configuration.
func (p *Pool) Config() config.PoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Bounds returns the current dynamic sizing bounds.
func (p *Pool) Bounds() (min, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentMin, p.currentMax
}

// Acquire checks out a connection, waiting up to the configured acquire
// timeout. Preference order: reuse an idle connection, create a new one if
// under the current maximum, otherwise queue as a FIFO waiter.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	timeout := p.cfg.AcquireTimeout
	p.mu.Unlock()
	return p.AcquireWithTimeout(ctx, timeout)
}

// AcquireWithTimeout is Acquire with an explicit wait budget. A zero
// timeout fails fast with ErrPoolExhausted instead of waiting.
func (p *Pool) AcquireWithTimeout(ctx context.Context, timeout time.Duration) (*Connection, error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.maybeReplenishLocked()

	if c := p.popIdleLocked(); c != nil {
		c.state = StateInUse
		p.inUse++
		p.mu.Unlock()
		p.recordAcquire(time.Since(start))
		return c, nil
	}

	if p.live+p.pending < p.currentMax {
		p.pending++
		p.mu.Unlock()

		conn, err := p.open(ctx)

		p.mu.Lock()
		p.pending--
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if p.closed {
			p.mu.Unlock()
			conn.Close() //nolint:errcheck
			return nil, ErrPoolClosed
		}
		c := p.registerLocked(conn)
		c.state = StateInUse
		p.inUse++
		p.mu.Unlock()
		p.recordAcquire(time.Since(start))
		return c, nil
	}

	if timeout <= 0 {
		p.mu.Unlock()
		return nil, ErrPoolExhausted
	}

	w := make(chan *Connection, 1)
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c, ok := <-w:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.recordAcquire(time.Since(start))
		return c, nil
	case <-timer.C:
		if c := p.abandonWait(elem, w); c != nil {
			p.recordAcquire(time.Since(start))
			return c, nil
		}
		p.totalTimeouts.Add(1)
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		if c := p.abandonWait(elem, w); c != nil {
			p.recordAcquire(time.Since(start))
			return c, nil
		}
		return nil, ctx.Err()
	}
}

// abandonWait removes a waiter from the queue. If a connection was handed
// over concurrently it is returned so the caller can still use it.
func (p *Pool) abandonWait(elem *list.Element, w chan *Connection) *Connection {
	p.mu.Lock()
	if elem.Value != nil {
		p.waiters.Remove(elem)
	}
	p.mu.Unlock()

	select {
	case c, ok := <-w:
		if ok {
			return c
		}
	default:
	}
	return nil
}

// Release hands a connection back. Connections past their lifetime or
// recycling threshold, or in excess of a lowered maximum, are retired here;
// connections due for validation are checked off the caller's path before
// rejoining the idle set. Waiters are served ahead of the idle list.
func (p *Pool) Release(c *Connection) {
	p.mu.Lock()
	if c.state == StateRetired {
		p.mu.Unlock()
		return
	}
	if c.state != StateInUse {
		p.mu.Unlock()
		p.logger.Warn("Release of connection not in use",
			zap.String("connection_id", c.id),
			zap.String("state", c.state.String()))
		return
	}
	p.inUse--
	c.lastUsedAt = time.Now()

	if reason := p.retireReasonLocked(c); reason != "" {
		p.retireLocked(c, reason)
		p.mu.Unlock()
		p.maybeReplenish()
		return
	}

	if time.Since(c.lastValidatedAt) >= p.cfg.HealthCheckInterval {
		c.state = StateValidating
		p.validating++
		p.mu.Unlock()
		go p.validateAndRequeue(c)
		return
	}

	p.requeueLocked(c)
	p.mu.Unlock()
}

// retireReasonLocked decides whether an off-duty connection must be
// retired instead of requeued. Empty means keep it.
func (p *Pool) retireReasonLocked(c *Connection) string {
	switch {
	case p.closed:
		return "pool closed"
	case c.expired(p.cfg.MaxLifetime):
		return "max lifetime exceeded"
	case c.QueryCount() >= p.cfg.RecycleThresholdQueries:
		return "recycle threshold reached"
	case p.live > p.currentMax:
		return "excess capacity"
	default:
		return ""
	}
}

// requeueLocked puts an off-duty connection back into service: the oldest
// waiter gets it directly, otherwise it joins the idle FIFO.
func (p *Pool) requeueLocked(c *Connection) {
	if elem := p.waiters.Front(); elem != nil {
		w := elem.Value.(chan *Connection)
		elem.Value = nil
		p.waiters.Remove(elem)
		c.state = StateInUse
		p.inUse++
		w <- c
		return
	}
	c.state = StateIdle
	p.idle = append(p.idle, c)
}

// popIdleLocked pops the oldest usable idle connection, retiring any that
// expired while sitting in the pool.
func (p *Pool) popIdleLocked() *Connection {
	for len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		if c.expired(p.cfg.MaxLifetime) {
			p.retireLocked(c, "max lifetime exceeded")
			continue
		}
		if c.QueryCount() >= p.cfg.RecycleThresholdQueries {
			p.retireLocked(c, "recycle threshold reached")
			continue
		}
		return c
	}
	return nil
}

// registerLocked places a freshly opened physical connection into a free
// arena slot in idle state.
func (p *Pool) registerLocked(conn driver.Conn) *Connection {
	slot := p.freeSlots[len(p.freeSlots)-1]
	p.freeSlots = p.freeSlots[:len(p.freeSlots)-1]

	c := newConnection(conn, p, slot, p.cfg.StatementCacheCapacity)
	p.slots[slot] = c
	p.live++
	p.totalCreated.Add(1)
	return c
}

// retireLocked permanently removes a connection and frees its slot. The
// physical close happens off the lock.
func (p *Pool) retireLocked(c *Connection, reason string) {
	if c.state == StateRetired {
		return
	}
	c.state = StateRetired
	c.retireReason = reason
	p.slots[c.slot] = nil
	p.freeSlots = append(p.freeSlots, c.slot)
	p.live--
	p.totalRetired.Add(1)

	go func() {
		if err := c.close(); err != nil {
			p.logger.Debug("Error closing retired connection",
				zap.String("connection_id", c.id),
				zap.Error(err))
		}
	}()
	p.logger.Debug("Connection retired",
		zap.String("connection_id", c.id),
		zap.String("reason", reason),
		zap.Int64("query_count", c.QueryCount()),
		zap.Duration("age", c.Age()))
}

// open establishes and warms up one physical connection, retrying with
// doubling backoff inside the bounded attempt budget.
func (p *Pool) open(ctx context.Context) (driver.Conn, error) {
	var lastErr error
	backoff := creationBaseBackoff

	for attempt := 1; attempt <= creationAttempts; attempt++ {
		conn, err := p.drv.Open(ctx, p.cfg.ConnectionString)
		if err == nil {
			err = p.runWarmupStatements(ctx, conn)
			if err == nil {
				return conn, nil
			}
			conn.Close() //nolint:errcheck
		}
		lastErr = err

		if attempt < creationAttempts {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &CreationError{Attempts: attempt, Cause: ctx.Err()}
			case <-timer.C:
			}
			backoff *= 2
		}
	}
	return nil, &CreationError{Attempts: creationAttempts, Cause: lastErr}
}

// runWarmupStatements executes the configured session setup statements in
// order. Any failure fails the connection as a whole.
func (p *Pool) runWarmupStatements(ctx context.Context, conn driver.Conn) error {
	for _, stmt := range p.cfg.WarmupStatements {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("warmup statement %q failed: %w", stmt, err)
		}
	}
	return nil
}

// maybeReplenish starts a background fill toward min_connections if one is
// not already running.
func (p *Pool) maybeReplenish() {
	p.mu.Lock()
	p.maybeReplenishLocked()
	p.mu.Unlock()
}

func (p *Pool) maybeReplenishLocked() {
	if p.replenishing || p.closed || p.live+p.pending >= p.currentMin {
		return
	}
	p.replenishing = true
	go p.replenish()
}

// replenish creates connections until the floor is met. On retry budget
// exhaustion it marks the pool creation-degraded and stops; the health
// monitor retriggers it on its next pass.
func (p *Pool) replenish() {
	for {
		p.mu.Lock()
		if p.closed || p.live+p.pending >= p.currentMin {
			p.replenishing = false
			p.mu.Unlock()
			return
		}
		p.pending++
		timeout := p.cfg.AcquireTimeout
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		conn, err := p.open(ctx)
		cancel()

		p.mu.Lock()
		p.pending--
		if err != nil {
			p.creationDegraded = true
			p.replenishing = false
			p.mu.Unlock()
			p.logger.Warn("Background connection creation failed",
				zap.Error(err))
			return
		}
		p.creationDegraded = false
		if p.closed {
			p.mu.Unlock()
			conn.Close() //nolint:errcheck
			return
		}
		c := p.registerLocked(conn)
		p.requeueLocked(c)
		p.mu.Unlock()
	}
}

// EnsureMinConnections nudges the pool back toward its floor. The health
// monitor calls this each pass so a previously failed replenishment is
// retried.
func (p *Pool) EnsureMinConnections() {
	p.maybeReplenish()
}

// Resize updates the dynamic bounds. Growing takes effect immediately for
// new acquires; shrinking never interrupts in-use connections, the excess
// is retired as connections are released or reaped.
func (p *Pool) Resize(newMin, newMax int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if newMin < 1 || newMax < newMin {
		return fmt.Errorf("invalid bounds: min=%d max=%d", newMin, newMax)
	}
	if newMax > p.cfg.HardCeiling {
		return fmt.Errorf("max %d exceeds hard ceiling %d", newMax, p.cfg.HardCeiling)
	}

	p.currentMin = newMin
	p.currentMax = newMax
	p.maybeReplenishLocked()
	return nil
}

// ClaimDueForValidation removes from the idle set up to limit connections
// whose last validation is older than the health check interval (or that
// already carry failed checks), marking them validating. The caller runs
// the validation query and reports back via CompleteValidation. A limit of
// zero or less means no limit.
func (p *Pool) ClaimDueForValidation(limit int) []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	var claimed []*Connection
	kept := p.idle[:0]
	for _, c := range p.idle {
		due := time.Since(c.lastValidatedAt) >= p.cfg.HealthCheckInterval || c.healthFailures > 0
		if due && (limit <= 0 || len(claimed) < limit) {
			c.state = StateValidating
			p.validating++
			claimed = append(claimed, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	return claimed
}

// CompleteValidation records the outcome of a validation run on a claimed
// connection. Success clears the failure streak; failure increments it and
// retires the connection once the streak reaches max_failed_health_checks,
// triggering a replacement. Either way the connection is re-checked against
// the retirement rules before it goes back into service, since it may have
// aged past max_lifetime or the recycle threshold while being validated.
func (p *Pool) CompleteValidation(c *Connection, ok bool) {
	p.mu.Lock()
	if c.state != StateValidating {
		p.mu.Unlock()
		return
	}
	p.validating--

	if ok {
		c.healthFailures = 0
		c.lastValidatedAt = time.Now()
	} else {
		c.healthFailures++
		if c.healthFailures >= p.cfg.MaxFailedHealthChecks {
			p.retireLocked(c, "failed health checks")
			p.mu.Unlock()
			p.maybeReplenish()
			return
		}
		p.logger.Debug("Connection failed validation",
			zap.String("connection_id", c.id),
			zap.Int("consecutive_failures", c.healthFailures))
	}

	if reason := p.retireReasonLocked(c); reason != "" {
		p.retireLocked(c, reason)
		p.mu.Unlock()
		p.maybeReplenish()
		return
	}
	p.requeueLocked(c)
	p.mu.Unlock()
}

// validateAndRequeue runs the validation query against a connection claimed
// on the release path.
func (p *Pool) validateAndRequeue(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), p.ValidationTimeout())
	defer cancel()
	err := c.Validate(ctx)
	p.CompleteValidation(c, err == nil)
}

func (p *Pool) validationQuery() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.ValidationQuery
}

// ValidationTimeout returns the per-check timeout validation runs use.
func (p *Pool) ValidationTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.HealthCheckTimeout
}

// ReapIdle retires idle connections that have sat unused past the idle
// timeout, never dropping below the floor, and trims idle excess above a
// lowered maximum. It returns how many connections were retired.
func (p *Pool) ReapIdle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}

	reaped := 0
	kept := p.idle[:0]
	for _, c := range p.idle {
		if p.live > p.currentMax {
			p.retireLocked(c, "excess capacity")
			reaped++
			continue
		}
		idleFor := time.Since(c.lastUsedAt)
		if p.cfg.IdleTimeout > 0 && idleFor >= p.cfg.IdleTimeout && p.live > p.currentMin {
			p.retireLocked(c, "idle timeout")
			reaped++
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	return reaped
}

// Close retires all idle connections and fails queued waiters. In-use
// connections are retired as they come back; acquire attempts after Close
// fail with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		w := elem.Value.(chan *Connection)
		elem.Value = nil
		close(w)
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	for _, c := range idle {
		p.retireLocked(c, "pool closed")
	}
	remaining := p.live
	p.mu.Unlock()

	p.logger.Info("Pool closed",
		zap.Int("connections_draining", remaining))
	return nil
}

// recordAcquire updates the rolling acquire time window and total.
func (p *Pool) recordAcquire(d time.Duration) {
	p.totalAcquired.Add(1)
	p.statsMu.Lock()
	p.acquireTimes[p.acquireIdx] = d
	p.acquireIdx = (p.acquireIdx + 1) % acquireWindow
	if p.acquireN < acquireWindow {
		p.acquireN++
	}
	p.statsMu.Unlock()
}

func (p *Pool) recordCacheLookup(hit bool) {
	if hit {
		p.cacheHits.Add(1)
	} else {
		p.cacheMisses.Add(1)
	}
}

func (p *Pool) avgAcquireTime() time.Duration {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if p.acquireN == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < p.acquireN; i++ {
		sum += p.acquireTimes[i]
	}
	return sum / time.Duration(p.acquireN)
}
