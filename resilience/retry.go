package resilience

import (
	"context"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines how delays increase between retries.
type BackoffStrategy int

const (
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear increases delay linearly.
	BackoffLinear
	// BackoffConstant uses the same delay for all retries.
	BackoffConstant
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	// Default: 50ms
	InitialDelay time.Duration

	// MaxDelay caps the maximum delay between retries.
	// Default: 5s
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for exponential backoff.
	// Default: 2.0
	Multiplier float64

	// Strategy is the backoff strategy.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter adds up to 25% randomness to each delay.
	Jitter bool

	// RetryIf determines if an error should trigger a retry. Permanent
	// errors are never retried, whatever it returns.
	// Default: every error.
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry repeats an operation that fails transiently, such as a storage
// write racing a locked database file.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Context: waits between attempts end early when ctx is done.
// - Errors: Permanent errors stop immediately and keep their mark.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a retry handler, filling in defaults.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 50 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(error) bool { return true }
	}
	return &Retry{config: config}
}

// Execute runs op until it succeeds, returns a non-retryable error, or the
// attempts are used up. Exhaustion returns ErrMaxRetriesExceeded wrapping the
// last error.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	attempt := 1
	for pause := range r.Delays() {
		if err == nil || IsPermanent(err) || !r.config.RetryIf(err) {
			return err
		}
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, pause)
		}
		if werr := wait(ctx, pause); werr != nil {
			return werr
		}
		err = op(ctx)
		attempt++
	}
	if err == nil || r.config.MaxAttempts == 1 || IsPermanent(err) || !r.config.RetryIf(err) {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt, err)
}

// Delays yields the pause before each retry, MaxAttempts-1 values in all.
func (r *Retry) Delays() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		for attempt := 1; attempt < r.config.MaxAttempts; attempt++ {
			if !yield(r.delay(attempt)) {
				return
			}
		}
	}
}

// delay returns the pause after the given failed attempt, counted from 1.
func (r *Retry) delay(attempt int) time.Duration {
	base := r.config.InitialDelay
	var d time.Duration
	switch r.config.Strategy {
	case BackoffLinear:
		d = base * time.Duration(attempt)
	case BackoffConstant:
		d = base
	default:
		d = time.Duration(float64(base) * math.Pow(r.config.Multiplier, float64(attempt-1)))
	}
	d = min(d, r.config.MaxDelay)

	if r.config.Jitter && d >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}
