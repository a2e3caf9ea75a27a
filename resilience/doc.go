// Package resilience guards calls into external collaborators such as the
// cache's backing store.
//
// # Patterns
//
//   - Circuit Breaker: stops calling a failing store after a threshold of
//     consecutive failures and probes it again after a reset timeout.
//
//   - Retry: retries transient failures with exponential, linear or constant
//     backoff. Errors marked with Permanent are never retried.
//
//   - Timeout: bounds a single attempt.
//
// # Usage
//
//	guard := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	        MaxFailures:  5,
//	        ResetTimeout: 30 * time.Second,
//	    })),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
//	        MaxAttempts:  3,
//	        InitialDelay: 50 * time.Millisecond,
//	    })),
//	    resilience.WithTimeout(2*time.Second),
//	)
//
//	err := guard.Execute(ctx, func(ctx context.Context) error {
//	    return engine.Write(ctx, table, rows)
//	})
package resilience
