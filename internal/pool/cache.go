package pool

import (
	"container/list"
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cboxdk/dbpool-manager/internal/driver"
)

// statementCache is a per-connection LRU of prepared statements keyed by the
// normalized query text. Prepared statements are tied to their physical
// connection, so the cache lives and dies with it; when the connection is
// retired the cache is dropped wholesale and the handles go down with the
// connection close.
//
// The cache is only touched by the goroutine holding the connection, so it
// needs no locking of its own.
type statementCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used

	// gauge tracks the pool-wide cached statement total. It is the only
	// cache state other goroutines observe.
	gauge *atomic.Int64
}

type cacheEntry struct {
	key        string
	stmt       driver.Stmt
	hitCount   uint64
	preparedAt time.Time
	lastUsedAt time.Time
}

func newStatementCache(capacity int, gauge *atomic.Int64) *statementCache {
	return &statementCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		gauge:    gauge,
	}
}

// getOrPrepare returns the cached statement for query, preparing and caching
// it on a miss. The second return reports whether the lookup was a hit.
// When the cache is full the least recently used statement is closed and
// evicted before the new one is inserted.
func (c *statementCache) getOrPrepare(ctx context.Context, conn driver.Conn, query string) (driver.Stmt, bool, error) {
	key := normalizeQuery(query)

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.hitCount++
		entry.lastUsedAt = time.Now()
		c.order.MoveToFront(elem)
		return entry.stmt, true, nil
	}

	stmt, err := conn.Prepare(ctx, query)
	if err != nil {
		return nil, false, &PrepareError{Query: query, Cause: err}
	}

	if c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	now := time.Now()
	entry := &cacheEntry{
		key:        key,
		stmt:       stmt,
		preparedAt: now,
		lastUsedAt: now,
	}
	c.entries[key] = c.order.PushFront(entry)
	if c.gauge != nil {
		c.gauge.Add(1)
	}
	return stmt, false, nil
}

// evictOldest closes and removes the least recently used statement.
func (c *statementCache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := c.order.Remove(elem).(*cacheEntry)
	delete(c.entries, entry.key)
	if c.gauge != nil {
		c.gauge.Add(-1)
	}
	entry.stmt.Close() //nolint:errcheck // handle dies with the connection anyway
}

func (c *statementCache) size() int {
	return c.order.Len()
}

// discard drops all entries without per-entry eviction bookkeeping. Used
// when the owning connection is retired; closing the physical connection
// invalidates every prepared statement on it.
func (c *statementCache) discard() {
	if c.gauge != nil {
		c.gauge.Add(int64(-c.order.Len()))
	}
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// normalizeQuery collapses runs of whitespace so that formatting variants of
// the same statement share one cache slot.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
