package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cboxdk/dbpool-manager/internal/registry"
)

// poolCollector gathers per-pool metrics at scrape time.
type poolCollector struct {
	pools *registry.Registry

	activeConnections *prometheus.Desc
	idleConnections   *prometheus.Desc
	waitingCallers    *prometheus.Desc
	currentMin        *prometheus.Desc
	currentMax        *prometheus.Desc
	utilization       *prometheus.Desc
	avgAcquireSeconds *prometheus.Desc
	acquiredTotal     *prometheus.Desc
	timeoutsTotal     *prometheus.Desc
	createdTotal      *prometheus.Desc
	retiredTotal      *prometheus.Desc
	cacheHitRatio     *prometheus.Desc
	cacheSize         *prometheus.Desc
	healthy           *prometheus.Desc
}

func newPoolCollector(pools *registry.Registry) *poolCollector {
	poolLabel := []string{"pool"}
	return &poolCollector{
		pools: pools,
		activeConnections: prometheus.NewDesc(
			"dbpool_active_connections",
			"Connections currently checked out",
			poolLabel, nil),
		idleConnections: prometheus.NewDesc(
			"dbpool_idle_connections",
			"Connections sitting idle in the pool",
			poolLabel, nil),
		waitingCallers: prometheus.NewDesc(
			"dbpool_waiting_callers",
			"Callers queued waiting for a connection",
			poolLabel, nil),
		currentMin: prometheus.NewDesc(
			"dbpool_current_min_connections",
			"Current dynamic minimum pool size",
			poolLabel, nil),
		currentMax: prometheus.NewDesc(
			"dbpool_current_max_connections",
			"Current dynamic maximum pool size",
			poolLabel, nil),
		utilization: prometheus.NewDesc(
			"dbpool_utilization_ratio",
			"Active connections over current maximum",
			poolLabel, nil),
		avgAcquireSeconds: prometheus.NewDesc(
			"dbpool_avg_acquire_seconds",
			"Rolling average connection acquire time",
			poolLabel, nil),
		acquiredTotal: prometheus.NewDesc(
			"dbpool_acquired_total",
			"Total successful connection acquires",
			poolLabel, nil),
		timeoutsTotal: prometheus.NewDesc(
			"dbpool_acquire_timeouts_total",
			"Total acquire attempts that timed out",
			poolLabel, nil),
		createdTotal: prometheus.NewDesc(
			"dbpool_connections_created_total",
			"Total physical connections created",
			poolLabel, nil),
		retiredTotal: prometheus.NewDesc(
			"dbpool_connections_retired_total",
			"Total connections retired",
			poolLabel, nil),
		cacheHitRatio: prometheus.NewDesc(
			"dbpool_statement_cache_hit_ratio",
			"Prepared statement cache hit ratio",
			poolLabel, nil),
		cacheSize: prometheus.NewDesc(
			"dbpool_statement_cache_size",
			"Cached prepared statements across all connections",
			poolLabel, nil),
		healthy: prometheus.NewDesc(
			"dbpool_healthy",
			"Whether the pool's last health pass was healthy (1) or not (0)",
			poolLabel, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConnections
	ch <- c.idleConnections
	ch <- c.waitingCallers
	ch <- c.currentMin
	ch <- c.currentMax
	ch <- c.utilization
	ch <- c.avgAcquireSeconds
	ch <- c.acquiredTotal
	ch <- c.timeoutsTotal
	ch <- c.createdTotal
	ch <- c.retiredTotal
	ch <- c.cacheHitRatio
	ch <- c.cacheSize
	ch <- c.healthy
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.pools.ListPools() {
		p, ok := c.pools.GetPool(name)
		if !ok {
			continue
		}
		stats := p.Stats()
		cache := p.CacheStats()

		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, name)
		}
		counter := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, name)
		}

		gauge(c.activeConnections, float64(stats.ActiveCount))
		gauge(c.idleConnections, float64(stats.IdleCount))
		gauge(c.waitingCallers, float64(stats.WaitingCount))
		gauge(c.currentMin, float64(stats.CurrentMin))
		gauge(c.currentMax, float64(stats.CurrentMax))
		gauge(c.utilization, stats.UtilizationRate)
		gauge(c.avgAcquireSeconds, stats.AvgAcquireTimeMs/1000)
		counter(c.acquiredTotal, float64(stats.TotalAcquired))
		counter(c.timeoutsTotal, float64(stats.TotalTimeouts))
		counter(c.createdTotal, float64(stats.TotalCreated))
		counter(c.retiredTotal, float64(stats.TotalRetired))
		gauge(c.cacheHitRatio, cache.HitRate)
		gauge(c.cacheSize, float64(cache.Size))

		healthyVal := 0.0
		if ok, err := c.pools.Healthy(name); err == nil && ok {
			healthyVal = 1
		}
		gauge(c.healthy, healthyVal)
	}
}
