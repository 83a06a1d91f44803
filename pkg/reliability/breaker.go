package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/taskchat/pkg/scheduler"
)

// ErrCircuitOpen is returned when the breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError reports why a call was refused.
type CircuitOpenError struct {
	Failures   int
	LastError  error
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	msg := fmt.Sprintf("circuit breaker is open: %d consecutive failures", e.Failures)
	if e.LastError != nil {
		msg += fmt.Sprintf(", last error: %v", e.LastError)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %v", e.RetryAfter)
	}
	return msg
}

func (e *CircuitOpenError) Unwrap() error { return ErrCircuitOpen }

// CircuitState is the breaker state.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the circuit. Default 5.
	MaxFailures int
	// Cooldown is how long the circuit stays open before a trial call. Default 30s.
	Cooldown time.Duration
	// OnStateChange is called outside the lock after each transition.
	OnStateChange func(from, to CircuitState, lastErr error)
}

// CircuitBreaker stops polling a backend that keeps failing. A single
// success in half-open state closes it again.
type CircuitBreaker struct {
	config BreakerConfig
	clock  scheduler.Clock

	mu        sync.Mutex
	state     CircuitState
	failures  int
	lastError error
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker. A nil clock uses real time.
func NewCircuitBreaker(config BreakerConfig, clock scheduler.Clock) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if clock == nil {
		clock = scheduler.Real{}
	}
	return &CircuitBreaker{config: config, clock: clock}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

// Allow reports whether a call may proceed, moving an open circuit to
// half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	if cb.state != CircuitOpen {
		cb.mu.Unlock()
		return nil
	}
	elapsed := cb.clock.Now().Sub(cb.openedAt)
	if elapsed >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		lastErr := cb.lastError
		cb.mu.Unlock()
		cb.notify(CircuitOpen, CircuitHalfOpen, lastErr)
		return nil
	}
	err := &CircuitOpenError{
		Failures:   cb.failures,
		LastError:  cb.lastError,
		RetryAfter: cb.config.Cooldown - elapsed,
	}
	cb.mu.Unlock()
	return err
}

// Record feeds a call outcome into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	from := cb.state
	if err != nil {
		cb.failures++
		cb.lastError = err
		if cb.state == CircuitHalfOpen || cb.failures >= cb.config.MaxFailures {
			cb.state = CircuitOpen
			cb.openedAt = cb.clock.Now()
		}
	} else {
		cb.failures = 0
		cb.lastError = nil
		cb.state = CircuitClosed
	}
	to := cb.state
	lastErr := cb.lastError
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to, lastErr)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and forgets failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.lastError = nil
	cb.openedAt = time.Time{}
}

func (cb *CircuitBreaker) notify(from, to CircuitState, lastErr error) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to, lastErr)
	}
}
