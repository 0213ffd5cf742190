// ABOUTME: Circuit breaker guarding sink publishes to external brokers
// ABOUTME: Opens after consecutive failures, probes after a cool-down, reports transitions

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default circuit breaker configuration values.
const (
	DefaultMaxFailures      = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// State is the breaker state.
type State int

const (
	// StateClosed allows calls through normally.
	StateClosed State = iota

	// StateOpen rejects all calls immediately.
	StateOpen

	// StateHalfOpen allows a limited number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
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

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the guarded sink in errors and callbacks.
	Name string

	// MaxFailures is the consecutive failure count that opens the circuit.
	// Zero uses DefaultMaxFailures.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Zero uses DefaultResetTimeout.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls is the number of probes allowed while half-open.
	// Zero uses DefaultHalfOpenMaxCalls.
	HalfOpenMaxCalls int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time
}

// Statistics holds circuit breaker counters.
type Statistics struct {
	State               State
	TotalRequests       int64
	Successes           int64
	Failures            int64
	Rejections          int64
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenCalls       int

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	rejections    atomic.Int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn unless the circuit is open. A rejected call returns an
// error wrapping ErrCircuitOpen. Context cancellation by the caller is not
// counted as a failure of the guarded dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.totalRequests.Add(1)

	if !cb.allowRequest() {
		cb.rejections.Add(1)
		return fmt.Errorf("%s: %w", cb.config.Name, ErrCircuitOpen)
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release()
		return err
	}

	cb.recordResult(err == nil)
	return err
}

// State returns the current state, moving open to half-open once the
// reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to := cb.advanceLocked()
	cb.mu.Unlock()

	cb.notify(from, to)
	return to
}

// Statistics returns current circuit breaker statistics.
func (cb *CircuitBreaker) Statistics() Statistics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Statistics{
		State:               cb.state,
		TotalRequests:       cb.totalRequests.Load(),
		Successes:           cb.successes.Load(),
		Failures:            cb.failures.Load(),
		Rejections:          cb.rejections.Load(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
	}
}

// Reset manually closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.lastFailureTime = time.Time{}
	cb.halfOpenCalls = 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// advanceLocked applies the timed open to half-open transition.
func (cb *CircuitBreaker) advanceLocked() (from, to State) {
	from = cb.state
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastFailureTime) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
	}
	return from, cb.state
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	from, to := cb.advanceLocked()

	allowed := false
	switch to {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			allowed = true
		}
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// release returns a half-open probe slot without judging the dependency.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mu.Lock()
	from := cb.state

	if success {
		cb.successes.Add(1)
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.halfOpenCalls = 0
		}
	} else {
		cb.failures.Add(1)
		cb.consecutiveFailures++
		cb.lastFailureTime = cb.config.Now()

		switch cb.state {
		case StateClosed:
			if cb.consecutiveFailures >= cb.config.MaxFailures {
				cb.state = StateOpen
			}
		case StateHalfOpen:
			cb.state = StateOpen
			cb.halfOpenCalls = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
