package reindex

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/chatindex/internal/reindex"

// Reindex outcomes used as the "result" attribute.
const (
	ResultCreated   = "created"
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultRemoved   = "removed"
	ResultError     = "error"
)

// Metrics provides OpenTelemetry metrics for the reindexer.
type Metrics struct {
	reindexTotal    metric.Int64Counter
	reindexDuration metric.Float64Histogram
	segmentChanges  metric.Int64Counter

	initialized bool
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.reindexTotal, err = meter.Int64Counter(
		"chatindex.reindex.total",
		metric.WithDescription("Total number of reindex operations by result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	m.reindexDuration, err = meter.Float64Histogram(
		"chatindex.reindex.duration.seconds",
		metric.WithDescription("Duration of reindex operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	m.segmentChanges, err = meter.Int64Counter(
		"chatindex.reindex.segment.changes",
		metric.WithDescription("Segment changes applied by reindex operations"),
		metric.WithUnit("{segment}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordReindex records one finished operation.
func (m *Metrics) RecordReindex(ctx context.Context, result string, d time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.reindexTotal.Add(ctx, 1, attrs)
	m.reindexDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordChanges records per-segment change counts by kind.
func (m *Metrics) RecordChanges(ctx context.Context, created, updated, moved, deleted int) {
	if m == nil || !m.initialized {
		return
	}
	for kind, n := range map[string]int{"created": created, "updated": updated, "moved": moved, "deleted": deleted} {
		if n > 0 {
			m.segmentChanges.Add(ctx, int64(n), metric.WithAttributes(attribute.String("change", kind)))
		}
	}
}

// Tracer returns the reindex tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span tagged with the source path.
func StartSpan(ctx context.Context, name, source string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	allOpts := append([]trace.SpanStartOption{trace.WithAttributes(attribute.String("chatindex.source", source))}, opts...)
	return Tracer().Start(ctx, name, allOpts...)
}

// RecordError records err on the current span and marks it failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
