// Package advisor turns pool, health and cache statistics into tuning
// recommendations. It never mutates pool state; acting on the advice is
// the operator's call.
package advisor

import (
	"fmt"
	"math"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/loadtest"
	"github.com/cboxdk/dbpool-manager/internal/pool"
)

// Rule thresholds. Each rule fires independently; the output preserves
// rule order.
const (
	highUtilization = 0.85
	lowUtilization  = 0.30
	highErrorRate   = 0.05
	slowAcquireMs   = 100.0
	lowCacheHitRate = 0.50
	// cacheHitRateMinLookups avoids judging the cache before it has seen
	// meaningful traffic.
	cacheHitRateMinLookups = 100
)

// Advise evaluates the tuning rules against a pool snapshot and returns
// the recommendations that apply, in rule order. An empty slice means the
// pool looks well tuned.
func Advise(stats pool.Stats, cache pool.CacheStats) []string {
	var recs []string

	if stats.UtilizationRate > highUtilization {
		recs = append(recs, fmt.Sprintf(
			"utilization at %.0f%%: raise max_connections (current %d) or lower acquire_timeout to shed load earlier",
			stats.UtilizationRate*100, stats.CurrentMax))
	}

	if rate := acquireErrorRate(stats); rate > highErrorRate {
		recs = append(recs, fmt.Sprintf(
			"%.1f%% of acquires time out: increase pool capacity or review connection validation latency",
			rate*100))
	}

	if stats.AvgAcquireTimeMs > slowAcquireMs {
		recs = append(recs, fmt.Sprintf(
			"average acquire time %.0fms: enlarge the statement cache (capacity %d) or review slow queries holding connections",
			stats.AvgAcquireTimeMs, cache.Capacity))
	}

	if stats.UtilizationRate < lowUtilization && stats.TotalAcquired > 0 {
		recs = append(recs, fmt.Sprintf(
			"utilization at %.0f%%: lower max_connections (current %d) or raise idle_timeout to shed idle connections slower",
			stats.UtilizationRate*100, stats.CurrentMax))
	}

	if lookups := cache.Hits + cache.Misses; lookups >= cacheHitRateMinLookups && cache.HitRate < lowCacheHitRate {
		recs = append(recs, fmt.Sprintf(
			"statement cache hit rate %.0f%%: queries may vary in text; normalize parameters or raise statement_cache_capacity",
			cache.HitRate*100))
	}

	return recs
}

// acquireErrorRate is the fraction of acquire attempts that timed out.
func acquireErrorRate(stats pool.Stats) float64 {
	attempts := stats.TotalAcquired + stats.TotalTimeouts
	if attempts == 0 {
		return 0
	}
	return float64(stats.TotalTimeouts) / float64(attempts)
}

// Sizing is a post-load-test pool sizing recommendation.
type Sizing struct {
	RecommendedMax int
	RecommendedMin int
	Note           string
}

// SizeFromLoadTest derives sizing advice from a completed load test run.
// High error rates trump utilization signals.
func SizeFromLoadTest(res *loadtest.Result, cfg config.PoolConfig) Sizing {
	curMax := cfg.MaxConnections
	curMin := cfg.MinConnections

	switch {
	case res.ErrorRate > highErrorRate:
		return Sizing{
			RecommendedMax: scale(curMax, 1.5, cfg.HardCeiling),
			RecommendedMin: scale(curMin, 1.2, cfg.HardCeiling),
			Note:           "High error rate under load; increase pool size to absorb bursts.",
		}
	case res.PeakUtilization > 0.90:
		return Sizing{
			RecommendedMax: scale(curMax, 1.3, cfg.HardCeiling),
			RecommendedMin: curMin,
			Note:           "Peak utilization above 90%; increase max_connections.",
		}
	case res.AvgUtilization < lowUtilization:
		return Sizing{
			RecommendedMax: maxInt(scale(curMax, 0.8, cfg.HardCeiling), 10),
			RecommendedMin: maxInt(scale(curMin, 0.8, cfg.HardCeiling), 5),
			Note:           "Low utilization under load; pool can shrink to save resources.",
		}
	default:
		return Sizing{
			RecommendedMax: curMax,
			RecommendedMin: curMin,
			Note:           "Pool size is appropriate for the tested load.",
		}
	}
}

func scale(n int, factor float64, ceiling int) int {
	v := int(math.Ceil(float64(n) * factor))
	if v > ceiling {
		return ceiling
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
