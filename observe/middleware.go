package observe

import (
	"context"
	"time"

	"github.com/jonwraymond/udfcache/batch"
)

// ExecuteFunc is the signature of one UDF invocation.
type ExecuteFunc func(ctx context.Context, meta FunctionMeta, input *batch.Batch) (*batch.Batch, error)

// Middleware wraps UDF invocations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
//   - Ownership: Input/output batches are passed through without modification.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = newNoopTracer()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Tracer returns the middleware's tracer.
func (m *Middleware) Tracer() Tracer { return m.tracer }

// Metrics returns the middleware's metrics.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap wraps an ExecuteFunc with tracing, metrics and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, meta FunctionMeta, input *batch.Batch) (*batch.Batch, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta, input.Len())
		start := time.Now()

		out, err := fn(ctx, meta, input)

		duration := time.Since(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordExecution(ctx, meta, duration, err)

		fields := []Field{
			F("duration_ms", float64(duration.Microseconds())/1000),
			F("rows", input.Len()),
		}
		logger := m.logger.WithFunction(meta)
		if err != nil {
			fields = append(fields, F("error", err))
			logger.Error(ctx, "udf invocation failed", fields...)
		} else {
			logger.Debug(ctx, "udf invocation completed", fields...)
		}

		return out, err
	}
}
