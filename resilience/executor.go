package resilience

import (
	"context"
	"slices"
	"time"
)

// Executor composes a circuit breaker, retry and a per-attempt timeout.
// Any of them may be absent.
//
// Contract:
// - Concurrency: safe for concurrent use when its parts are.
// - Errors: returns the error of the outermost pattern that gave up.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithTimeout bounds every attempt by d. Zero or negative d disables it.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d <= 0 {
			e.timeout = nil
			return
		}
		e.timeout = NewTimeout(TimeoutConfig{Timeout: d})
	}
}

// CircuitBreaker returns the executor's breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuitBreaker
}

// layer is one pattern an Executor can stack.
type layer interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Execute runs op through the configured patterns, outermost first:
//  1. Circuit breaker: a whole retry sequence counts as one call.
//  2. Retry: repeats transient failures.
//  3. Timeout: bounds each attempt.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	var layers []layer
	if e.circuitBreaker != nil {
		layers = append(layers, e.circuitBreaker)
	}
	if e.retry != nil {
		layers = append(layers, e.retry)
	}
	if e.timeout != nil {
		layers = append(layers, e.timeout)
	}

	run := op
	for _, l := range slices.Backward(layers) {
		inner := run
		run = func(ctx context.Context) error { return l.Execute(ctx, inner) }
	}
	return run(ctx)
}
