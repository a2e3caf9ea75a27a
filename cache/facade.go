package cache

import (
	"context"
	"sync/atomic"

	"github.com/jonwraymond/udfcache/batch"
	"github.com/jonwraymond/udfcache/observe"
)

// Facade holds the one active strategy of a process and instruments every
// call through it.
//
// Build it once at start-up and hand it to the evaluator. The strategy is
// fixed for the Facade's lifetime.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: Execute returns exactly what the strategy returns.
type Facade struct {
	cache    Cache
	strategy Strategy
	name     string
	tracer   observe.Tracer
	metrics  observe.Metrics
	mw       *observe.Middleware
}

// NewFacade wraps c. A nil obs disables telemetry.
func NewFacade(c Cache, obs observe.Observer) (*Facade, error) {
	if c == nil {
		return nil, ErrNilCache
	}
	if obs == nil {
		obs = observe.NewNoopObserver()
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, err
	}

	kind, ok := StrategyOf(c)
	name := kind.String()
	if !ok {
		name = "custom"
	}
	return &Facade{
		cache:    c,
		strategy: kind,
		name:     name,
		tracer:   mw.Tracer(),
		metrics:  mw.Metrics(),
		mw:       mw,
	}, nil
}

// Execute runs fn on input through the active strategy.
func (f *Facade) Execute(ctx context.Context, fn FunctionID, input *batch.Batch, callback Callback) (*batch.Batch, error) {
	meta := observe.FunctionMeta{Name: string(fn), Strategy: f.name}
	ctx, span := f.tracer.StartCacheSpan(ctx, meta, input.Len())

	var computed atomic.Int64
	invoke := f.mw.Wrap(func(ctx context.Context, _ observe.FunctionMeta, in *batch.Batch) (*batch.Batch, error) {
		return callback(ctx, in)
	})
	counted := func(ctx context.Context, in *batch.Batch) (*batch.Batch, error) {
		computed.Add(int64(in.Len()))
		return invoke(ctx, meta, in)
	}

	out, err := f.cache.Execute(ctx, fn, input, counted)
	f.tracer.EndSpan(span, err)

	if err == nil {
		misses := min(int(computed.Load()), input.Len())
		f.metrics.RecordLookup(ctx, meta, input.Len()-misses, misses)
	}
	return out, err
}

// ExecuteUDF runs udf through the facade under its registered name.
func (f *Facade) ExecuteUDF(ctx context.Context, udf UDF, input *batch.Batch) (*batch.Batch, error) {
	return ExecuteUDF(ctx, f, udf, input)
}

// Drop clears the active strategy's in-memory state.
func (f *Facade) Drop(ctx context.Context) {
	f.cache.Drop(ctx)
}

// Cache returns the active strategy instance.
func (f *Facade) Cache() Cache {
	return f.cache
}

// Strategy returns the kind of the active strategy. Implementations outside
// this package report StrategyNone.
func (f *Facade) Strategy() Strategy {
	return f.strategy
}

// Stats returns the active strategy's stats, if it reports any.
func (f *Facade) Stats() (Stats, bool) {
	r, ok := f.cache.(StatsReporter)
	if !ok {
		return Stats{}, false
	}
	return r.Stats(), true
}

var _ Cache = (*Facade)(nil)
