package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// FunctionMeta identifies a UDF and the cache strategy in front of it.
type FunctionMeta struct {
	Name     string // Registered UDF identity (required)
	Strategy string // Active cache strategy (optional)
}

// SpanName returns the span name for one UDF invocation.
// Format: udf.exec.<name>
func (m FunctionMeta) SpanName() string {
	return "udf.exec." + m.Name
}

// CacheSpanName returns the span name for one cached execute call.
// Format: cache.execute.<name>
func (m FunctionMeta) CacheSpanName() string {
	return "cache.execute." + m.Name
}

func (m FunctionMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("udf.name", m.Name)}
	if m.Strategy != "" {
		attrs = append(attrs, attribute.String("cache.strategy", m.Strategy))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with UDF-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a span for one UDF invocation.
	StartSpan(ctx context.Context, meta FunctionMeta, rows int) (context.Context, trace.Span)

	// StartCacheSpan starts a span for one cached execute call.
	StartCacheSpan(ctx context.Context, meta FunctionMeta, rows int) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta FunctionMeta, rows int) (context.Context, trace.Span) {
	attrs := append(meta.attributes(),
		attribute.Int("udf.input_rows", rows),
		attribute.Bool("udf.error", false), // Updated in EndSpan on error
	)
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) StartCacheSpan(ctx context.Context, meta FunctionMeta, rows int) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Int("cache.input_rows", rows))
	return t.tracer.Start(ctx, meta.CacheSpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("udf.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

func newNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta FunctionMeta, _ int) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) StartCacheSpan(ctx context.Context, meta FunctionMeta, _ int) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.CacheSpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
