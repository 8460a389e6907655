package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/toolmesh/toolmesh/core"
)

// BreakerState represents the state of the circuit breaker
type BreakerState int

const (
	// StateClosed allows all requests through
	StateClosed BreakerState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited trial requests
	StateHalfOpen
)

// String returns the string representation of the state
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MetricsCollector interface for circuit breaker metrics
type MetricsCollector interface {
	RecordSuccess(name string)
	RecordFailure(name string)
	RecordStateChange(name string, from, to string)
	RecordRejection(name string)
}

// noopMetrics is a no-op metrics implementation
type noopMetrics struct{}

func (n *noopMetrics) RecordSuccess(name string)                      {}
func (n *noopMetrics) RecordFailure(name string)                      {}
func (n *noopMetrics) RecordStateChange(name string, from, to string) {}
func (n *noopMetrics) RecordRejection(name string)                    {}

// CircuitBreakerConfig holds configuration for a per-tool circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker (usually the tool name)
	Name string

	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int

	// RecoveryTimeout is how long to stay open before allowing a trial call
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again
	SuccessThreshold int

	// Clock supplies the current time. Injectable so tests can drive the
	// open -> half-open transition without sleeping.
	Clock func() time.Time

	// Logger for state transition events
	Logger core.Logger

	// Metrics collector for monitoring
	Metrics MetricsCollector
}

// DefaultBreakerConfig returns production-ready defaults for a tool
func DefaultBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

// Validate validates the circuit breaker configuration
func (c *CircuitBreakerConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}
	if c.Name == "" {
		return errors.New("circuit breaker name is required")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("recovery timeout must be non-negative, got %v", c.RecoveryTimeout)
	}
	return nil
}

// CircuitBreaker tracks consecutive failures and successes for one tool and
// gates call attempts. It is a classic three-state breaker: Closed counts
// failures up to FailureThreshold, Open rejects calls until RecoveryTimeout
// has elapsed, Half-Open allows trials until SuccessThreshold consecutive
// successes close it again.
//
// The Open -> Half-Open transition is evaluated lazily on read as a pure
// function of (now, openedAt, RecoveryTimeout); there is no background timer.
// RecordSuccess and RecordFailure are the only mutators. The breaker never
// fails - it only reports a boolean gate.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	totalCalls           uint64
	totalFailures        uint64
}

// NewCircuitBreaker creates a circuit breaker for one tool
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultBreakerConfig("default")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &noopMetrics{}
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}, nil
}

// State returns the current state, performing the time-based
// Open -> Half-Open check.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// stateLocked evaluates the lazy open -> half-open transition.
// Must be called with the lock held.
func (cb *CircuitBreaker) stateLocked() BreakerState {
	if cb.state == StateOpen {
		if cb.config.Clock().Sub(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.consecutiveSuccesses = 0
		}
	}
	return cb.state
}

// IsAvailable reports whether a call attempt is permitted
func (cb *CircuitBreaker) IsAvailable() bool {
	return cb.State() != StateOpen
}

// RecordSuccess registers a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.consecutiveFailures = 0
	cb.config.Metrics.RecordSuccess(cb.config.Name)

	if cb.stateLocked() == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
			cb.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure registers a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalCalls++
	cb.totalFailures++
	cb.consecutiveFailures++
	cb.config.Metrics.RecordFailure(cb.config.Name)

	switch cb.stateLocked() {
	case StateHalfOpen:
		// A failure during the trial period reopens immediately
		cb.openedAt = cb.config.Clock()
		cb.transitionLocked(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.openedAt = cb.config.Clock()
			cb.transitionLocked(StateOpen)
			cb.consecutiveSuccesses = 0
		}
	}
}

// RecordRejection counts a call rejected while open (for diagnostics only)
func (cb *CircuitBreaker) RecordRejection() {
	cb.config.Metrics.RecordRejection(cb.config.Name)
}

// transitionLocked changes state (must be called with lock held)
func (cb *CircuitBreaker) transitionLocked(newState BreakerState) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation":            "circuit_breaker_transition",
		"name":                 cb.config.Name,
		"from":                 oldState.String(),
		"to":                   newState.String(),
		"consecutive_failures": cb.consecutiveFailures,
	})
	cb.config.Metrics.RecordStateChange(cb.config.Name, oldState.String(), newState.String())
}

// Reset forces the breaker back to Closed with all counters zeroed
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionLocked(StateClosed)
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.openedAt = time.Time{}
}

// TotalCalls returns the cumulative number of recorded calls
func (cb *CircuitBreaker) TotalCalls() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalCalls
}

// TotalFailures returns the cumulative number of recorded failures
func (cb *CircuitBreaker) TotalFailures() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalFailures
}

// FailureRate returns totalFailures/totalCalls, or 0 with no calls
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.totalCalls == 0 {
		return 0
	}
	return float64(cb.totalFailures) / float64(cb.totalCalls)
}

// Metrics returns current breaker diagnostics
func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var rate float64
	if cb.totalCalls > 0 {
		rate = float64(cb.totalFailures) / float64(cb.totalCalls)
	}
	return map[string]interface{}{
		"name":                  cb.config.Name,
		"state":                 cb.stateLocked().String(),
		"consecutive_failures":  cb.consecutiveFailures,
		"consecutive_successes": cb.consecutiveSuccesses,
		"total_calls":           cb.totalCalls,
		"total_failures":        cb.totalFailures,
		"failure_rate":          rate,
	}
}
