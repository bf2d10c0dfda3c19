package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cboxdk/dbpool-manager/internal/driver"
)

// ConnState is the lifecycle state of a pooled connection.
type ConnState int32

const (
	// StateIdle means the connection sits in the pool awaiting checkout.
	StateIdle ConnState = iota
	// StateInUse means a caller holds the connection.
	StateInUse
	// StateValidating means a health validation is running against the
	// connection; it is temporarily withheld from checkout.
	StateValidating
	// StateRetired means the connection is permanently removed and its
	// physical handle closed (or about to be).
	StateRetired
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateValidating:
		return "validating"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Connection is a managed physical database connection. Callers obtain one
// through Pool.Acquire, run statements on it, and hand it back with
// Pool.Release. A Connection is held by at most one goroutine at a time.
type Connection struct {
	id     string
	slot   int
	handle driver.Conn
	pool   *Pool
	cache  *statementCache

	createdAt  time.Time
	queryCount atomic.Int64

	// The fields below are guarded by the owning pool's mutex.
	state           ConnState
	lastUsedAt      time.Time
	lastValidatedAt time.Time
	healthFailures  int
	retireReason    string
}

func newConnection(handle driver.Conn, pool *Pool, slot int, cacheCapacity int) *Connection {
	now := time.Now()
	return &Connection{
		id:              uuid.NewString(),
		slot:            slot,
		handle:          handle,
		pool:            pool,
		cache:           newStatementCache(cacheCapacity, &pool.cachedStatements),
		createdAt:       now,
		lastUsedAt:      now,
		lastValidatedAt: now,
		state:           StateIdle,
	}
}

// ID returns the connection's stable identifier.
func (c *Connection) ID() string {
	return c.id
}

// Age returns how long the connection has existed.
func (c *Connection) Age() time.Duration {
	return time.Since(c.createdAt)
}

// QueryCount returns the number of statements executed on this connection.
func (c *Connection) QueryCount() int64 {
	return c.queryCount.Load()
}

// Exec runs query directly on the underlying connection, bypassing the
// statement cache.
func (c *Connection) Exec(ctx context.Context, query string) error {
	err := c.handle.Exec(ctx, query)
	c.queryCount.Add(1)
	return err
}

// ExecCached runs query through the per-connection prepared statement cache.
// Repeated executions of the same (whitespace-normalized) query reuse the
// prepared handle. A preparation failure is reported as a *PrepareError and
// leaves the rest of the cache intact.
func (c *Connection) ExecCached(ctx context.Context, query string) error {
	stmt, hit, err := c.cache.getOrPrepare(ctx, c.handle, query)
	if err != nil {
		return err
	}
	c.pool.recordCacheLookup(hit)

	err = stmt.Exec(ctx)
	c.queryCount.Add(1)
	return err
}

// Validate runs the pool's validation query directly against the physical
// handle. It bypasses the statement cache and does not count toward the
// recycling threshold.
func (c *Connection) Validate(ctx context.Context) error {
	return c.handle.Exec(ctx, c.pool.validationQuery())
}

// CacheSize returns how many prepared statements this connection holds.
// Only meaningful while the caller owns the connection.
func (c *Connection) CacheSize() int {
	return c.cache.size()
}

// expired reports whether the connection has outlived maxLifetime.
func (c *Connection) expired(maxLifetime time.Duration) bool {
	return maxLifetime > 0 && time.Since(c.createdAt) >= maxLifetime
}

// close tears down the physical handle. The statement cache is dropped
// without per-entry eviction; the handles die with the connection.
func (c *Connection) close() error {
	c.cache.discard()
	return c.handle.Close()
}
