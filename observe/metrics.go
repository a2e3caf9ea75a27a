package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricExecTotal    = "udf.exec.total"
	MetricExecErrors   = "udf.exec.errors"
	MetricExecDuration = "udf.exec.duration_ms"
	MetricRowsHit      = "udfcache.rows.hit"
	MetricRowsMiss     = "udfcache.rows.miss"
)

// Metrics records UDF invocation and cache lookup metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordExecution records one UDF invocation.
	RecordExecution(ctx context.Context, meta FunctionMeta, duration time.Duration, err error)

	// RecordLookup records how many input rows of one execute call were
	// served from the cache and how many were computed.
	RecordLookup(ctx context.Context, meta FunctionMeta, hits, misses int)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	rowsHit      metric.Int64Counter
	rowsMiss     metric.Int64Counter
}

// NewMetrics creates Metrics instruments on the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		MetricExecTotal,
		metric.WithDescription("Total number of UDF invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		MetricExecErrors,
		metric.WithDescription("Total number of failed UDF invocations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		MetricExecDuration,
		metric.WithDescription("UDF invocation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rowsHit, err := meter.Int64Counter(
		MetricRowsHit,
		metric.WithDescription("Input rows served from the cache"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	rowsMiss, err := meter.Int64Counter(
		MetricRowsMiss,
		metric.WithDescription("Input rows computed by the UDF"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		rowsHit:      rowsHit,
		rowsMiss:     rowsMiss,
	}, nil
}

func (m *metricsImpl) RecordExecution(ctx context.Context, meta FunctionMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta FunctionMeta, hits, misses int) {
	opt := metric.WithAttributes(meta.attributes()...)
	if hits > 0 {
		m.rowsHit.Add(ctx, int64(hits), opt)
	}
	if misses > 0 {
		m.rowsMiss.Add(ctx, int64(misses), opt)
	}
}

type noopMetrics struct{}

func (noopMetrics) RecordExecution(context.Context, FunctionMeta, time.Duration, error) {}
func (noopMetrics) RecordLookup(context.Context, FunctionMeta, int, int)                {}
