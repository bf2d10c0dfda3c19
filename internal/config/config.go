// Package config loads and validates the dbpool-manager configuration.
//
// Configuration is YAML with strict field checking: unknown keys are
// rejected at load time rather than silently ignored, so a typo in a pool
// option fails fast instead of running with defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Pools     []PoolConfig    `yaml:"pools"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings for metrics and health.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
}

// StorageConfig contains time-series storage settings.
type StorageConfig struct {
	DatabasePath   string        `yaml:"database_path"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	Retention      time.Duration `yaml:"retention"`
}

// PoolConfig describes one managed connection pool.
//
// A PoolConfig is immutable once the pool is created; re-tuning replaces the
// whole config atomically rather than mutating fields in place.
type PoolConfig struct {
	Name             string `yaml:"name"`
	ConnectionString string `yaml:"connection_string"`

	// Basic pool sizing
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`

	// Statement caching
	StatementCacheCapacity int `yaml:"statement_cache_capacity"`

	// Health checking
	HealthCheckInterval   time.Duration `yaml:"health_check_interval"`
	HealthCheckTimeout    time.Duration `yaml:"health_check_timeout"`
	MaxFailedHealthChecks int           `yaml:"max_failed_health_checks"`

	// Load-based dynamic sizing
	LoadThresholdHigh float64       `yaml:"load_threshold_high"`
	LoadThresholdLow  float64       `yaml:"load_threshold_low"`
	ScaleUpFactor     float64       `yaml:"scale_up_factor"`
	ScaleDownFactor   float64       `yaml:"scale_down_factor"`
	MinScaleInterval  time.Duration `yaml:"min_scale_interval"`
	ScaleEvalInterval time.Duration `yaml:"scale_eval_interval"`
	HardCeiling       int           `yaml:"hard_ceiling"`

	// Connection lifecycle
	ValidationQuery         string   `yaml:"validation_query"`
	WarmupStatements        []string `yaml:"warmup_statements"`
	RecycleThresholdQueries int64    `yaml:"recycle_threshold_queries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled        bool                    `yaml:"enabled"`
	ServiceName    string                  `yaml:"service_name"`
	ServiceVersion string                  `yaml:"service_version"`
	Environment    string                  `yaml:"environment"`
	Exporter       TelemetryExporterConfig `yaml:"exporter"`
	SamplingRate   float64                 `yaml:"sampling_rate"`
}

// TelemetryExporterConfig configures the trace exporter.
type TelemetryExporterConfig struct {
	Type     string            `yaml:"type"` // "stdout" or "otlp"
	Endpoint string            `yaml:"endpoint,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// LoadDefault creates a zero-configuration setup with all defaults and a
// single pool named "primary" against an in-memory SQLite database.
func LoadDefault() (*Config, error) {
	var config Config
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}
	return &config, nil
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML configuration, rejecting unknown fields.
func Parse(data []byte) (*Config, error) {
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = "0.0.0.0:9091"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.HealthPath == "" {
		cfg.Server.HealthPath = "/health"
	}

	// Default to in-memory sample storage
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ":memory:"
	}
	if cfg.Storage.SampleInterval == 0 {
		cfg.Storage.SampleInterval = DefaultSampleInterval
	}
	if cfg.Storage.Retention == 0 {
		cfg.Storage.Retention = DefaultSampleRetention
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "dbpool-manager"
	}
	if cfg.Telemetry.Exporter.Type == "" {
		cfg.Telemetry.Exporter.Type = "stdout"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}

	// Zero-config mode gets a single pool with defaults.
	if len(cfg.Pools) == 0 {
		cfg.Pools = []PoolConfig{{
			Name:             "primary",
			ConnectionString: ":memory:",
		}}
	}

	for i := range cfg.Pools {
		applyPoolDefaults(&cfg.Pools[i])
	}
}

// ApplyPoolDefaults fills in unset pool options. Exposed for callers that
// construct a PoolConfig programmatically instead of through Load.
func ApplyPoolDefaults(p *PoolConfig) {
	applyPoolDefaults(p)
}

// applyPoolDefaults fills in unset pool options.
func applyPoolDefaults(p *PoolConfig) {
	if p.MinConnections == 0 {
		p.MinConnections = DefaultMinConnections
	}
	if p.MaxConnections == 0 {
		p.MaxConnections = DefaultMaxConnections
	}
	if p.AcquireTimeout == 0 {
		p.AcquireTimeout = DefaultAcquireTimeout
	}
	if p.IdleTimeout == 0 {
		p.IdleTimeout = DefaultIdleTimeout
	}
	if p.MaxLifetime == 0 {
		p.MaxLifetime = DefaultMaxLifetime
	}
	if p.StatementCacheCapacity == 0 {
		p.StatementCacheCapacity = DefaultStatementCacheCapacity
	}
	if p.HealthCheckInterval == 0 {
		p.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if p.HealthCheckTimeout == 0 {
		p.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if p.MaxFailedHealthChecks == 0 {
		p.MaxFailedHealthChecks = DefaultMaxFailedHealthChecks
	}
	if p.LoadThresholdHigh == 0 {
		p.LoadThresholdHigh = DefaultLoadThresholdHigh
	}
	if p.LoadThresholdLow == 0 {
		p.LoadThresholdLow = DefaultLoadThresholdLow
	}
	if p.ScaleUpFactor == 0 {
		p.ScaleUpFactor = DefaultScaleUpFactor
	}
	if p.ScaleDownFactor == 0 {
		p.ScaleDownFactor = DefaultScaleDownFactor
	}
	if p.MinScaleInterval == 0 {
		p.MinScaleInterval = DefaultMinScaleInterval
	}
	if p.ScaleEvalInterval == 0 {
		p.ScaleEvalInterval = DefaultScaleEvalInterval
	}
	if p.HardCeiling == 0 {
		p.HardCeiling = DefaultHardCeiling
	}
	if p.ValidationQuery == "" {
		p.ValidationQuery = DefaultValidationQuery
	}
	if p.RecycleThresholdQueries == 0 {
		p.RecycleThresholdQueries = DefaultRecycleThresholdQueries
	}
}

// validate checks configuration invariants.
func validate(cfg *Config) error {
	if cfg.Server.BindAddress == "" {
		return fmt.Errorf("server.bind_address must not be empty")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}

	switch cfg.Telemetry.Exporter.Type {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter.type must be stdout or otlp; got %q", cfg.Telemetry.Exporter.Type)
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate must be in [0,1]; got %v", cfg.Telemetry.SamplingRate)
	}

	seen := make(map[string]bool, len(cfg.Pools))
	for i := range cfg.Pools {
		p := &cfg.Pools[i]
		if err := ValidatePool(p); err != nil {
			return fmt.Errorf("pool %q: %w", p.Name, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate pool name %q", p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}

// ValidatePool checks the invariants of a single pool configuration.
func ValidatePool(p *PoolConfig) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(p.Name) > MaxPoolNameLength {
		return fmt.Errorf("name exceeds %d characters", MaxPoolNameLength)
	}
	if p.MinConnections < 0 {
		return fmt.Errorf("min_connections must not be negative; got %d", p.MinConnections)
	}
	if p.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1; got %d", p.MaxConnections)
	}
	if p.MinConnections > p.MaxConnections {
		return fmt.Errorf("min_connections (%d) must not exceed max_connections (%d)",
			p.MinConnections, p.MaxConnections)
	}
	if p.LoadThresholdLow < 0 || p.LoadThresholdHigh > 1 || p.LoadThresholdLow >= p.LoadThresholdHigh {
		return fmt.Errorf("load thresholds must satisfy 0 <= low < high <= 1; got low=%v high=%v",
			p.LoadThresholdLow, p.LoadThresholdHigh)
	}
	if p.ScaleUpFactor <= 1 {
		return fmt.Errorf("scale_up_factor must be greater than 1; got %v", p.ScaleUpFactor)
	}
	if p.ScaleDownFactor <= 0 || p.ScaleDownFactor >= 1 {
		return fmt.Errorf("scale_down_factor must be in (0,1); got %v", p.ScaleDownFactor)
	}
	if p.HardCeiling < p.MaxConnections {
		return fmt.Errorf("hard_ceiling (%d) must be at least max_connections (%d)",
			p.HardCeiling, p.MaxConnections)
	}
	if p.AcquireTimeout < 0 {
		return fmt.Errorf("acquire_timeout must not be negative; got %v", p.AcquireTimeout)
	}
	if p.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive; got %v", p.HealthCheckInterval)
	}
	if p.HealthCheckTimeout <= 0 {
		return fmt.Errorf("health_check_timeout must be positive; got %v", p.HealthCheckTimeout)
	}
	if p.MaxFailedHealthChecks < 1 {
		return fmt.Errorf("max_failed_health_checks must be at least 1; got %d", p.MaxFailedHealthChecks)
	}
	if p.MinScaleInterval <= 0 {
		return fmt.Errorf("min_scale_interval must be positive; got %v", p.MinScaleInterval)
	}
	if p.ValidationQuery == "" {
		return fmt.Errorf("validation_query must not be empty")
	}
	if p.RecycleThresholdQueries < 1 {
		return fmt.Errorf("recycle_threshold_queries must be at least 1; got %d", p.RecycleThresholdQueries)
	}
	if p.StatementCacheCapacity < 1 {
		return fmt.Errorf("statement_cache_capacity must be at least 1; got %d", p.StatementCacheCapacity)
	}
	return nil
}
