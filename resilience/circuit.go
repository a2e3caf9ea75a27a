package resilience

import (
	"context"
	"sync"
	"time"
)

// State is the position of a CircuitBreaker.
type State int

const (
	// StateClosed lets every call through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen refuses calls until ResetTimeout has passed since it opened.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the lower-case state name used in logs.
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

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit. Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange observes transitions. It runs after the breaker's lock
	// is released, so it may call back into the breaker.
	OnStateChange func(from, to State)

	// IsFailure decides whether an error counts against the circuit.
	// Default: every non-nil error not marked Permanent.
	IsFailure func(err error) bool
}

// CircuitBreaker stops calls into a collaborator that keeps failing, such
// as a storage engine that lost its disk.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: while open, Execute returns ErrCircuitOpen without calling op.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int // consecutive, while closed
	probes   int // in flight, while half-open
	openedAt time.Time
	trips    int
	rejected int
}

// transition is a state change waiting to be reported outside the lock.
type transition struct {
	from, to State
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil && !IsPermanent(err) }
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Execute runs op unless the circuit refuses it, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	admitted, probe, changes := cb.admit()
	cb.notify(changes)
	if !admitted {
		return ErrCircuitOpen
	}

	err := op(ctx)
	cb.notify(cb.record(probe, cb.config.IsFailure(err)))
	return err
}

// State returns the current state, moving an expired open circuit to
// half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	changes := cb.advanceLocked(nil)
	s := cb.state
	cb.mu.Unlock()
	cb.notify(changes)
	return s
}

// Reset closes the circuit and forgets recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var changes []transition
	changes = cb.moveLocked(changes, StateClosed)
	cb.failures = 0
	cb.probes = 0
	cb.mu.Unlock()
	cb.notify(changes)
}

// Metrics returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	changes := cb.advanceLocked(nil)
	m := CircuitBreakerMetrics{
		State:    cb.state,
		Failures: cb.failures,
		Trips:    cb.trips,
		Rejected: cb.rejected,
		OpenedAt: cb.openedAt,
	}
	cb.mu.Unlock()
	cb.notify(changes)
	return m
}

// admit decides whether a call may run. probe reports that the call holds
// a half-open probe slot.
func (cb *CircuitBreaker) admit() (admitted, probe bool, changes []transition) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	changes = cb.advanceLocked(changes)
	switch cb.state {
	case StateOpen:
		cb.rejected++
		return false, false, changes
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxRequests {
			cb.rejected++
			return false, false, changes
		}
		cb.probes++
		return true, true, changes
	}
	return true, false, changes
}

func (cb *CircuitBreaker) record(probe, failed bool) []transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var changes []transition
	if probe && cb.probes > 0 {
		cb.probes--
	}
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return nil
		}
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			changes = cb.tripLocked(changes)
		}
	case StateHalfOpen:
		if failed {
			changes = cb.tripLocked(changes)
		} else {
			changes = cb.moveLocked(changes, StateClosed)
			cb.failures = 0
		}
	}
	return changes
}

// advanceLocked moves an open circuit to half-open once ResetTimeout has
// passed.
func (cb *CircuitBreaker) advanceLocked(changes []transition) []transition {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.probes = 0
		changes = cb.moveLocked(changes, StateHalfOpen)
	}
	return changes
}

func (cb *CircuitBreaker) tripLocked(changes []transition) []transition {
	cb.openedAt = cb.now()
	cb.trips++
	return cb.moveLocked(changes, StateOpen)
}

func (cb *CircuitBreaker) moveLocked(changes []transition, to State) []transition {
	if cb.state == to {
		return changes
	}
	changes = append(changes, transition{from: cb.state, to: to})
	cb.state = to
	return changes
}

func (cb *CircuitBreaker) notify(changes []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		cb.config.OnStateChange(c.from, c.to)
	}
}

// CircuitBreakerMetrics is a snapshot of CircuitBreaker counters.
type CircuitBreakerMetrics struct {
	State    State
	Failures int       // Consecutive failures while closed
	Trips    int       // Times the circuit opened, since creation
	Rejected int       // Calls refused, since creation
	OpenedAt time.Time // Zero until the first trip
}
