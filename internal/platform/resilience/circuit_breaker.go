package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen signals that the breaker is suppressing upstream calls
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents circuit breaker state
type State int

const (
	// StateClosed allows all requests
	StateClosed State = iota
	// StateOpen suppresses requests until the open window elapses
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// CircuitState is a point-in-time copy of the breaker counters.
// OpenUntil is zero unless FailureCount has reached the threshold.
type CircuitState struct {
	FailureCount int
	OpenUntil    time.Time
}

// CircuitBreaker counts consecutive upstream failures and suppresses calls
// for a fixed window once the threshold is hit. There is no half-open probe:
// the first call after the window is a normal attempt.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	openFor          time.Duration
	now              Clock

	failures      int
	openUntil     time.Time
	lastState     State
	mu            sync.RWMutex
	onStateChange func(from, to State)
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // Consecutive failures before opening
	OpenFor          time.Duration // How long the circuit stays open
	Clock            Clock
	OnStateChange    func(from, to State)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		openFor:          cfg.OpenFor,
		now:              cfg.Clock,
		lastState:        StateClosed,
		onStateChange:    cfg.OnStateChange,
	}
}

// RecordFailure counts one failed upstream interaction. Reaching the
// threshold (or failing again while already past it) opens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.openUntil = cb.now().Add(cb.openFor)
	}
	cb.observeLocked()
}

// Reset zeroes the failure streak and closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.openUntil = time.Time{}
	cb.observeLocked()
}

// IsOpen reports whether calls should currently be suppressed
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	open := cb.isOpenLocked()
	cb.observeLocked()
	return open
}

// Allow returns ErrCircuitOpen while the circuit is open
func (cb *CircuitBreaker) Allow() error {
	if cb.IsOpen() {
		return ErrCircuitOpen
	}
	return nil
}

func (cb *CircuitBreaker) isOpenLocked() bool {
	return !cb.openUntil.IsZero() && cb.now().Before(cb.openUntil)
}

// observeLocked fires the state change callback when the effective state
// differs from the last one reported (caller must hold lock)
func (cb *CircuitBreaker) observeLocked() {
	current := StateClosed
	if cb.isOpenLocked() {
		current = StateOpen
	}
	if current == cb.lastState {
		return
	}
	from := cb.lastState
	cb.lastState = current
	if cb.onStateChange != nil {
		cb.onStateChange(from, current)
	}
}

// State returns current state
func (cb *CircuitBreaker) State() State {
	if cb.IsOpen() {
		return StateOpen
	}
	return StateClosed
}

// Name returns circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Snapshot returns the failure count and open deadline as one consistent pair
func (cb *CircuitBreaker) Snapshot() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitState{FailureCount: cb.failures, OpenUntil: cb.openUntil}
}
