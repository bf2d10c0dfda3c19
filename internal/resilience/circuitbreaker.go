// Package resilience provides a circuit breaker used to guard best-effort
// side channels, currently the SQLite sample store. When the guarded
// operation fails repeatedly the breaker opens and callers fail fast
// instead of stacking writes onto a broken database.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the breaker state.
type CircuitState int

const (
	// StateClosed allows all operations through.
	StateClosed CircuitState = iota
	// StateOpen rejects operations until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets probe operations through to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes it again.
	SuccessThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns thresholds suitable for a local database.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// CircuitBreaker implements the three-state breaker pattern.
type CircuitBreaker struct {
	config Config
	logger *zap.Logger
	name   string

	mu            sync.Mutex
	state         CircuitState
	failureCount  int
	successCount  int
	nextRetryTime time.Time
	lastFailure   time.Time
	stateChanged  time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &CircuitBreaker{
		config:       config,
		logger:       logger.Named("circuit-breaker").With(zap.String("name", name)),
		name:         name,
		state:        StateClosed,
		stateChanged: time.Now(),
	}
}

// Execute runs fn under breaker protection. With the circuit open it
// returns an *OpenError immediately without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return &OpenError{Name: cb.name, RetryAt: cb.retryAt()}
	}

	err := fn()
	if err != nil {
		cb.recordFailure(err)
		return err
	}
	cb.recordSuccess()
	return nil
}

// allow reports whether an operation may proceed, transitioning open to
// half-open when the recovery timeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Now().After(cb.nextRetryTime) {
			cb.setStateLocked(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.successCount = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.logger.Warn("Failure threshold reached, opening circuit",
				zap.Int("failures", cb.failureCount),
				zap.Error(err))
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		cb.setStateLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setStateLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) setStateLocked(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	cb.stateChanged = time.Now()
	cb.successCount = 0

	if newState == StateOpen {
		cb.nextRetryTime = time.Now().Add(cb.config.RecoveryTimeout)
	}
	if newState == StateClosed {
		cb.failureCount = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()))
}

// State returns the current state, applying the open to half-open
// transition if due.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Now().After(cb.nextRetryTime) {
		cb.setStateLocked(StateHalfOpen)
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateClosed)
}

func (cb *CircuitBreaker) retryAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.nextRetryTime
}

// OpenError is returned when the circuit rejects an operation.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// IsOpenError reports whether err is a breaker rejection.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
