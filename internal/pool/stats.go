package pool

import "time"

// Stats is a point-in-time snapshot of pool occupancy and acquire behavior.
type Stats struct {
	Name             string  `json:"name"`
	ActiveCount      int     `json:"active_count"`
	IdleCount        int     `json:"idle_count"`
	ValidatingCount  int     `json:"validating_count"`
	LiveCount        int     `json:"live_count"`
	WaitingCount     int     `json:"waiting_count"`
	CurrentMin       int     `json:"current_min"`
	CurrentMax       int     `json:"current_max"`
	UtilizationRate  float64 `json:"utilization_rate"`
	AvgAcquireTimeMs float64 `json:"avg_acquire_time_ms"`
	TotalAcquired    uint64  `json:"total_acquired"`
	TotalTimeouts    uint64  `json:"total_timeouts"`
	TotalCreated     uint64  `json:"total_created"`
	TotalRetired     uint64  `json:"total_retired"`
}

// CacheStats aggregates statement cache behavior across all of the pool's
// connections.
type CacheStats struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	Size     int     `json:"size"`     // cached statements across all connections
	Capacity int     `json:"capacity"` // per-connection capacity
}

// HealthSnapshot is the raw material the health monitor derives pool-level
// health from.
type HealthSnapshot struct {
	LiveCount        int  `json:"live_count"`
	SuspectCount     int  `json:"suspect_count"`
	CurrentMin       int  `json:"current_min"`
	CreationDegraded bool `json:"creation_degraded"`
	Closed           bool `json:"closed"`
}

// Stats returns a snapshot of the pool's occupancy and acquire metrics.
func (p *Pool) Stats() Stats {
	avg := p.avgAcquireTime()

	p.mu.Lock()
	s := Stats{
		Name:            p.name,
		ActiveCount:     p.inUse,
		IdleCount:       len(p.idle),
		ValidatingCount: p.validating,
		LiveCount:       p.live,
		WaitingCount:    p.waiters.Len(),
		CurrentMin:      p.currentMin,
		CurrentMax:      p.currentMax,
	}
	if p.currentMax > 0 {
		s.UtilizationRate = float64(p.inUse) / float64(p.currentMax)
	}
	p.mu.Unlock()

	s.AvgAcquireTimeMs = float64(avg) / float64(time.Millisecond)
	s.TotalAcquired = p.totalAcquired.Load()
	s.TotalTimeouts = p.totalTimeouts.Load()
	s.TotalCreated = p.totalCreated.Load()
	s.TotalRetired = p.totalRetired.Load()
	return s
}

// CacheStats returns aggregate statement cache metrics. The hit rate is
// hits over total lookups since the pool started.
func (p *Pool) CacheStats() CacheStats {
	hits := p.cacheHits.Load()
	misses := p.cacheMisses.Load()

	p.mu.Lock()
	capacity := p.cfg.StatementCacheCapacity
	p.mu.Unlock()

	cs := CacheStats{
		Hits:     hits,
		Misses:   misses,
		Size:     int(p.cachedStatements.Load()),
		Capacity: capacity,
	}
	if total := hits + misses; total > 0 {
		cs.HitRate = float64(hits) / float64(total)
	}
	return cs
}

// Health returns the inputs for pool-level health evaluation.
func (p *Pool) Health() HealthSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	suspect := 0
	for _, c := range p.slots {
		if c != nil && c.healthFailures > 0 {
			suspect++
		}
	}
	return HealthSnapshot{
		LiveCount:        p.live,
		SuspectCount:     suspect,
		CurrentMin:       p.currentMin,
		CreationDegraded: p.creationDegraded,
		Closed:           p.closed,
	}
}
