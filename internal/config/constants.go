package config

import "time"

// Pool sizing defaults mirror what a mid-size service needs out of the box:
// a warm floor of connections and room to grow under load without letting a
// runaway client exhaust the database's connection slots.
const (
	// DefaultMinConnections is the floor of live connections kept warm.
	DefaultMinConnections = 5

	// DefaultMaxConnections is the initial ceiling; the dynamic scaler may
	// raise it up to the hard ceiling.
	DefaultMaxConnections = 20

	// DefaultHardCeiling is the absolute safety bound on pool growth. The
	// scaler never raises max_connections past this, regardless of load.
	DefaultHardCeiling = 200

	// DefaultAcquireTimeout bounds how long a caller waits for a connection.
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultIdleTimeout retires connections idle past this, down to the floor.
	DefaultIdleTimeout = 10 * time.Minute

	// DefaultMaxLifetime retires connections regardless of activity.
	DefaultMaxLifetime = time.Hour
)

// Statement cache and recycling defaults.
const (
	// DefaultStatementCacheCapacity is the per-connection prepared statement limit.
	DefaultStatementCacheCapacity = 256

	// DefaultRecycleThresholdQueries recycles a connection after this many queries.
	DefaultRecycleThresholdQueries = 10000
)

// Health checking defaults.
const (
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultHealthCheckTimeout    = 5 * time.Second
	DefaultMaxFailedHealthChecks = 3

	// DefaultValidationQuery is cheap on every database the manager targets.
	DefaultValidationQuery = "SELECT 1"
)

// Dynamic sizing defaults. The gap between the two thresholds plus the
// minimum scale interval provide hysteresis against oscillation.
const (
	DefaultLoadThresholdHigh = 0.8
	DefaultLoadThresholdLow  = 0.3
	DefaultScaleUpFactor     = 1.2
	DefaultScaleDownFactor   = 0.9
	DefaultMinScaleInterval  = time.Minute
	DefaultScaleEvalInterval = 30 * time.Second
)

// Storage defaults.
const (
	DefaultSampleInterval  = 30 * time.Second
	DefaultSampleRetention = 7 * 24 * time.Hour
)

// Validation limits.
const (
	// MaxPoolNameLength bounds pool names for storage keys and labels.
	MaxPoolNameLength = 64
)
