// Package setup assembles a cache runtime from configuration: telemetry,
// the persistent store, the selected strategy behind a Facade, and health
// checks.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jonwraymond/udfcache/cache"
	"github.com/jonwraymond/udfcache/config"
	"github.com/jonwraymond/udfcache/health"
	"github.com/jonwraymond/udfcache/observe"
	"github.com/jonwraymond/udfcache/resilience"
	"github.com/jonwraymond/udfcache/storage"
	"github.com/jonwraymond/udfcache/storage/sqlite"
)

// Runtime is an assembled cache and everything it owns.
type Runtime struct {
	Config   config.Config
	Observer observe.Observer
	Facade   *cache.Facade
	Health   *health.Aggregator

	// Store backs the persistent strategy; nil for other strategies.
	Store storage.Store
}

// New builds a Runtime from a validated configuration. On error everything
// already built is released.
func New(ctx context.Context, cfg config.Config) (rt *Runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, cfg.ObserverConfig())
	if err != nil {
		return nil, fmt.Errorf("setup: observer: %w", err)
	}
	rt = &Runtime{Config: cfg, Observer: obs}
	defer func() {
		if err != nil {
			err = errors.Join(err, rt.Close(ctx))
			rt = nil
		}
	}()

	keyer, err := cache.NewDigestKeyer(cache.HashAlgorithm(cfg.Hash))
	if err != nil {
		return rt, err
	}
	logger := obs.Logger()
	opts := cache.Options{
		Logger:         logger,
		Keyer:          keyer,
		CoalesceMisses: cfg.Row.CoalesceMisses,
	}

	kind := cfg.StrategyKind()
	if kind == cache.StrategyPersistent {
		store, err := openStore(ctx, cfg.Persistent)
		if err != nil {
			return rt, err
		}
		rt.Store = store
		opts.Catalog = store
		opts.Engine = store
		opts.WriteGuard = writeGuard(ctx, cfg.Persistent, logger)
	}

	c, err := cache.New(kind, opts)
	if err != nil {
		return rt, err
	}
	if rt.Facade, err = cache.NewFacade(c, obs); err != nil {
		return rt, err
	}

	rt.Health = health.NewAggregator(health.AggregatorConfig{Parallel: true, Logger: logger})
	if r, ok := c.(cache.StatsReporter); ok {
		rt.Health.Register("cache", health.NewCacheChecker(r, health.CacheCheckerConfig{
			WarningEntries:  cfg.Health.WarningEntries,
			CriticalEntries: cfg.Health.CriticalEntries,
		}))
	}
	if p, ok := rt.Store.(health.Pinger); ok {
		rt.Health.Register("store", health.NewStoreChecker(p))
	}

	logger.Info(ctx, "udf cache ready",
		observe.F("cache.strategy", kind.String()),
		observe.F("hash", string(keyer.Algorithm())),
		observe.F("driver", string(cfg.Persistent.Driver)),
	)
	return rt, nil
}

func openStore(ctx context.Context, cfg config.PersistentConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(cfg.ReadBatchSize), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{DSN: cfg.DSN, BatchSize: cfg.ReadBatchSize})
		if err != nil {
			return nil, fmt.Errorf("setup: store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("setup: unsupported driver %q", cfg.Driver)
	}
}

// writeGuard builds the retry, breaker and timeout around write-through.
// A zero count disables the corresponding pattern.
func writeGuard(ctx context.Context, cfg config.PersistentConfig, logger observe.Logger) *resilience.Executor {
	var opts []resilience.ExecutorOption
	if cfg.BreakerFailures > 0 {
		opts = append(opts, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset.Std(),
			OnStateChange: func(from, to resilience.State) {
				logger.Warn(ctx, "cache write breaker changed state",
					observe.F("from", from.String()),
					observe.F("to", to.String()),
				)
			},
		})))
	}
	if cfg.WriteAttempts > 1 {
		opts = append(opts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.WriteAttempts,
			InitialDelay: cfg.WriteBackoff.Std(),
			Jitter:       true,
		})))
	}
	opts = append(opts, resilience.WithTimeout(cfg.WriteTimeout.Std()))
	return resilience.NewExecutor(opts...)
}

// Close releases the store and flushes telemetry.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if c, ok := rt.Store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if rt.Observer != nil {
		errs = append(errs, rt.Observer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
