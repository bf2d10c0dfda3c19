package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	configContent := `
server:
  bind_address: "127.0.0.1:9091"
  metrics_path: "/metrics"

storage:
  database_path: "./test.db"
  sample_interval: 10s
  retention: 24h

pools:
  - name: "orders"
    connection_string: "orders.db"
    min_connections: 5
    max_connections: 25
    acquire_timeout: 5s
    statement_cache_capacity: 128
    validation_query: "SELECT 1"
    warmup_statements:
      - "PRAGMA foreign_keys = ON"

logging:
  level: "debug"
  format: "console"
`

	tmpFile, err := os.CreateTemp("", "config_test_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write([]byte(configContent)); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.BindAddress != "127.0.0.1:9091" {
		t.Errorf("Expected bind address 127.0.0.1:9091, got %s", cfg.Server.BindAddress)
	}
	if cfg.Storage.SampleInterval != 10*time.Second {
		t.Errorf("Expected sample interval 10s, got %v", cfg.Storage.SampleInterval)
	}
	if len(cfg.Pools) != 1 {
		t.Fatalf("Expected 1 pool, got %d", len(cfg.Pools))
	}

	p := cfg.Pools[0]
	if p.Name != "orders" {
		t.Errorf("Expected pool name orders, got %s", p.Name)
	}
	if p.MinConnections != 5 || p.MaxConnections != 25 {
		t.Errorf("Expected bounds 5/25, got %d/%d", p.MinConnections, p.MaxConnections)
	}
	if p.StatementCacheCapacity != 128 {
		t.Errorf("Expected cache capacity 128, got %d", p.StatementCacheCapacity)
	}
	if len(p.WarmupStatements) != 1 {
		t.Errorf("Expected 1 warmup statement, got %d", len(p.WarmupStatements))
	}

	// Unset fields get defaults.
	if p.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("Expected default idle timeout, got %v", p.IdleTimeout)
	}
	if p.HardCeiling != DefaultHardCeiling {
		t.Errorf("Expected default hard ceiling, got %d", p.HardCeiling)
	}
	if p.ScaleUpFactor != DefaultScaleUpFactor {
		t.Errorf("Expected default scale up factor, got %v", p.ScaleUpFactor)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestParseUnknownField(t *testing.T) {
	_, err := Parse([]byte(`
server:
  bind_address: "127.0.0.1:9091"
  unknown_option: true
`))
	if err == nil {
		t.Fatal("Expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "unknown_option") && !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected unknown-field error, got: %v", err)
	}
}

func TestLoadDefault(t *testing.T) {
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	if len(cfg.Pools) != 1 {
		t.Fatalf("Expected one default pool, got %d", len(cfg.Pools))
	}
	if cfg.Pools[0].Name != "primary" {
		t.Errorf("Expected default pool name primary, got %s", cfg.Pools[0].Name)
	}
	if cfg.Pools[0].MinConnections != DefaultMinConnections {
		t.Errorf("Expected default min connections, got %d", cfg.Pools[0].MinConnections)
	}
	if cfg.Storage.DatabasePath != ":memory:" {
		t.Errorf("Expected in-memory storage default, got %s", cfg.Storage.DatabasePath)
	}
}

func TestValidatePool(t *testing.T) {
	base := func() PoolConfig {
		p := PoolConfig{Name: "test", ConnectionString: ":memory:"}
		ApplyPoolDefaults(&p)
		return p
	}

	tests := []struct {
		name    string
		mutate  func(*PoolConfig)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(p *PoolConfig) {},
		},
		{
			name:    "empty name",
			mutate:  func(p *PoolConfig) { p.Name = "  " },
			wantErr: "name",
		},
		{
			name:    "name too long",
			mutate:  func(p *PoolConfig) { p.Name = strings.Repeat("x", MaxPoolNameLength+1) },
			wantErr: "name",
		},
		{
			name:    "min above max",
			mutate:  func(p *PoolConfig) { p.MinConnections = 30; p.MaxConnections = 10 },
			wantErr: "min_connections",
		},
		{
			name:    "negative min",
			mutate:  func(p *PoolConfig) { p.MinConnections = -1 },
			wantErr: "min_connections",
		},
		{
			name:    "inverted thresholds",
			mutate:  func(p *PoolConfig) { p.LoadThresholdLow = 0.9; p.LoadThresholdHigh = 0.5 },
			wantErr: "thresholds",
		},
		{
			name:    "scale up factor at one",
			mutate:  func(p *PoolConfig) { p.ScaleUpFactor = 1.0 },
			wantErr: "scale_up_factor",
		},
		{
			name:    "scale down factor at one",
			mutate:  func(p *PoolConfig) { p.ScaleDownFactor = 1.0 },
			wantErr: "scale_down_factor",
		},
		{
			name:    "ceiling below max",
			mutate:  func(p *PoolConfig) { p.MaxConnections = 50; p.HardCeiling = 40 },
			wantErr: "hard_ceiling",
		},
		{
			name:    "empty validation query",
			mutate:  func(p *PoolConfig) { p.ValidationQuery = "" },
			wantErr: "validation_query",
		},
		{
			name:    "negative recycle threshold",
			mutate:  func(p *PoolConfig) { p.RecycleThresholdQueries = -1 },
			wantErr: "recycle_threshold_queries",
		},
		{
			name:    "negative statement cache capacity",
			mutate:  func(p *PoolConfig) { p.StatementCacheCapacity = -1 },
			wantErr: "statement_cache_capacity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base()
			tt.mutate(&p)
			err := ValidatePool(&p)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseDuplicatePoolNames(t *testing.T) {
	_, err := Parse([]byte(`
pools:
  - name: "orders"
    connection_string: "a.db"
  - name: "orders"
    connection_string: "b.db"
`))
	if err == nil {
		t.Fatal("Expected error for duplicate pool names")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("Expected duplicate-name error, got: %v", err)
	}
}
