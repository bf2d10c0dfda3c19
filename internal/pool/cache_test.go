package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/cboxdk/dbpool-manager/internal/driver"
)

func TestStatementCacheHitRate(t *testing.T) {
	mock := driver.NewMock()
	cfg := testConfig("cache-hits")
	cfg.MinConnections = 1
	cfg.MaxConnections = 1

	p := newTestPool(t, cfg, mock)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(c)

	for i := 0; i < 5; i++ {
		if err := c.ExecCached(ctx, "SELECT 1"); err != nil {
			t.Fatalf("ExecCached %d: %v", i, err)
		}
	}

	cs := p.CacheStats()
	if cs.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", cs.Misses)
	}
	if cs.Hits != 4 {
		t.Errorf("Expected 4 hits, got %d", cs.Hits)
	}
	if cs.HitRate != 0.8 {
		t.Errorf("Expected hit rate 0.8, got %v", cs.HitRate)
	}
	if cs.Size != 1 {
		t.Errorf("Expected 1 cached statement, got %d", cs.Size)
	}
}

func TestStatementCacheNormalizesWhitespace(t *testing.T) {
	mock := driver.NewMock()
	cfg := testConfig("cache-normalize")
	cfg.MinConnections = 1
	cfg.MaxConnections = 1

	p := newTestPool(t, cfg, mock)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(c)

	if err := c.ExecCached(ctx, "SELECT id FROM users"); err != nil {
		t.Fatalf("ExecCached: %v", err)
	}
	if err := c.ExecCached(ctx, "  SELECT   id\n\tFROM users "); err != nil {
		t.Fatalf("ExecCached variant: %v", err)
	}

	cs := p.CacheStats()
	if cs.Hits != 1 || cs.Misses != 1 {
		t.Errorf("Expected whitespace variants to share an entry, got hits=%d misses=%d", cs.Hits, cs.Misses)
	}
	if c.CacheSize() != 1 {
		t.Errorf("Expected 1 cached statement, got %d", c.CacheSize())
	}
}

func TestStatementCacheEvictsOldest(t *testing.T) {
	mock := driver.NewMock()
	cfg := testConfig("cache-evict")
	cfg.MinConnections = 1
	cfg.MaxConnections = 1
	cfg.StatementCacheCapacity = 2

	p := newTestPool(t, cfg, mock)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(c)

	queries := []string{"SELECT 1", "SELECT 2", "SELECT 3"}
	for _, q := range queries {
		if err := c.ExecCached(ctx, q); err != nil {
			t.Fatalf("ExecCached %q: %v", q, err)
		}
	}

	if c.CacheSize() != 2 {
		t.Errorf("Expected cache bounded at 2, got %d", c.CacheSize())
	}

	// The least recently used entry was evicted; re-running it is a miss.
	if err := c.ExecCached(ctx, "SELECT 1"); err != nil {
		t.Fatalf("ExecCached after eviction: %v", err)
	}
	cs := p.CacheStats()
	if cs.Misses != 4 {
		t.Errorf("Expected 4 misses (3 initial + 1 re-prepare), got %d", cs.Misses)
	}
	if cs.Size != 2 {
		t.Errorf("Expected pool-wide cache size 2, got %d", cs.Size)
	}
}

func TestExecCachedPrepareFailure(t *testing.T) {
	mock := driver.NewMock()
	cfg := testConfig("cache-prepare-fail")
	cfg.MinConnections = 1
	cfg.MaxConnections = 1

	p := newTestPool(t, cfg, mock)
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(c)

	if err := c.ExecCached(ctx, "SELECT 1"); err != nil {
		t.Fatalf("ExecCached: %v", err)
	}

	injected := errors.New("syntax error")
	mock.FailQuery("SELECT nope", injected, 1)

	err = c.ExecCached(ctx, "SELECT nope")
	var pe *PrepareError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PrepareError, got %T: %v", err, err)
	}
	if !errors.Is(err, injected) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}

	// The rest of the cache is intact.
	if err := c.ExecCached(ctx, "SELECT 1"); err != nil {
		t.Fatalf("ExecCached after failure: %v", err)
	}
	if cs := p.CacheStats(); cs.Hits != 1 {
		t.Errorf("Expected cached entry to survive, got %d hits", cs.Hits)
	}
}
