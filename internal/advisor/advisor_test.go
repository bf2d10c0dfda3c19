package advisor

import (
	"strings"
	"testing"

	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/loadtest"
	"github.com/cboxdk/dbpool-manager/internal/pool"
)

func TestAdvise(t *testing.T) {
	tests := []struct {
		name  string
		stats pool.Stats
		cache pool.CacheStats
		want  []string // substrings, one per expected recommendation, in order
	}{
		{
			name:  "well tuned pool",
			stats: pool.Stats{UtilizationRate: 0.5, TotalAcquired: 1000, AvgAcquireTimeMs: 2},
			cache: pool.CacheStats{Hits: 900, Misses: 100, HitRate: 0.9},
			want:  nil,
		},
		{
			name:  "high utilization",
			stats: pool.Stats{UtilizationRate: 0.92, CurrentMax: 20, TotalAcquired: 100},
			want:  []string{"raise max_connections"},
		},
		{
			name:  "acquire timeouts",
			stats: pool.Stats{UtilizationRate: 0.5, TotalAcquired: 90, TotalTimeouts: 10},
			want:  []string{"time out"},
		},
		{
			name:  "slow acquires",
			stats: pool.Stats{UtilizationRate: 0.5, TotalAcquired: 100, AvgAcquireTimeMs: 250},
			want:  []string{"average acquire time"},
		},
		{
			name:  "low utilization with traffic",
			stats: pool.Stats{UtilizationRate: 0.1, CurrentMax: 50, TotalAcquired: 100},
			want:  []string{"lower max_connections"},
		},
		{
			name:  "idle pool not flagged",
			stats: pool.Stats{UtilizationRate: 0, CurrentMax: 50, TotalAcquired: 0},
			want:  nil,
		},
		{
			name:  "poor cache hit rate",
			stats: pool.Stats{UtilizationRate: 0.5, TotalAcquired: 100},
			cache: pool.CacheStats{Hits: 30, Misses: 70, HitRate: 0.3},
			want:  []string{"statement cache hit rate"},
		},
		{
			name:  "cache not judged before traffic",
			stats: pool.Stats{UtilizationRate: 0.5, TotalAcquired: 100},
			cache: pool.CacheStats{Hits: 1, Misses: 9, HitRate: 0.1},
			want:  nil,
		},
		{
			name: "multiple findings preserve rule order",
			stats: pool.Stats{
				UtilizationRate: 0.95, CurrentMax: 10,
				TotalAcquired: 80, TotalTimeouts: 20,
				AvgAcquireTimeMs: 300,
			},
			cache: pool.CacheStats{Hits: 10, Misses: 90, HitRate: 0.1},
			want:  []string{"raise max_connections", "time out", "average acquire time", "statement cache hit rate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advise(tt.stats, tt.cache)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d recommendations, got %d: %v", len(tt.want), len(got), got)
			}
			for i, substr := range tt.want {
				if !strings.Contains(got[i], substr) {
					t.Errorf("Recommendation %d: expected to contain %q, got %q", i, substr, got[i])
				}
			}
		})
	}
}

func TestSizeFromLoadTest(t *testing.T) {
	cfg := config.PoolConfig{
		Name:             "sizing",
		ConnectionString: ":memory:",
		MinConnections:   10,
		MaxConnections:   50,
	}
	config.ApplyPoolDefaults(&cfg)

	tests := []struct {
		name    string
		res     loadtest.Result
		wantMax int
		wantMin int
	}{
		{
			name:    "high error rate grows aggressively",
			res:     loadtest.Result{ErrorRate: 0.10, PeakUtilization: 0.5, AvgUtilization: 0.4},
			wantMax: 75, // 50 * 1.5
			wantMin: 12, // 10 * 1.2
		},
		{
			name:    "peak saturation grows max only",
			res:     loadtest.Result{ErrorRate: 0.01, PeakUtilization: 0.95, AvgUtilization: 0.6},
			wantMax: 65, // 50 * 1.3
			wantMin: 10,
		},
		{
			name:    "low utilization shrinks",
			res:     loadtest.Result{ErrorRate: 0.01, PeakUtilization: 0.4, AvgUtilization: 0.2},
			wantMax: 40, // 50 * 0.8
			wantMin: 8,  // 10 * 0.8
		},
		{
			name:    "balanced keeps current size",
			res:     loadtest.Result{ErrorRate: 0.01, PeakUtilization: 0.7, AvgUtilization: 0.5},
			wantMax: 50,
			wantMin: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SizeFromLoadTest(&tt.res, cfg)
			if s.RecommendedMax != tt.wantMax {
				t.Errorf("Expected recommended max %d, got %d", tt.wantMax, s.RecommendedMax)
			}
			if s.RecommendedMin != tt.wantMin {
				t.Errorf("Expected recommended min %d, got %d", tt.wantMin, s.RecommendedMin)
			}
			if s.Note == "" {
				t.Error("Expected a sizing note")
			}
		})
	}
}

func TestSizeFromLoadTestRespectsCeiling(t *testing.T) {
	cfg := config.PoolConfig{
		Name:             "ceiling",
		ConnectionString: ":memory:",
		MinConnections:   10,
		MaxConnections:   180,
		HardCeiling:      200,
	}
	config.ApplyPoolDefaults(&cfg)

	res := loadtest.Result{ErrorRate: 0.10}
	s := SizeFromLoadTest(&res, cfg)
	if s.RecommendedMax != 200 {
		t.Errorf("Expected recommendation clamped to hard ceiling, got %d", s.RecommendedMax)
	}
}

func TestSizeFromLoadTestShrinkFloors(t *testing.T) {
	cfg := config.PoolConfig{
		Name:             "floors",
		ConnectionString: ":memory:",
		MinConnections:   2,
		MaxConnections:   8,
	}
	config.ApplyPoolDefaults(&cfg)

	res := loadtest.Result{ErrorRate: 0, PeakUtilization: 0.2, AvgUtilization: 0.1}
	s := SizeFromLoadTest(&res, cfg)
	if s.RecommendedMax != 10 {
		t.Errorf("Expected shrink floored at 10, got %d", s.RecommendedMax)
	}
	if s.RecommendedMin != 5 {
		t.Errorf("Expected shrink floored at 5, got %d", s.RecommendedMin)
	}
}
