package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := SourceFromContext(ctx); v != "" {
		fields = append(fields, zap.String("source", v))
	}
	if v := SequenceIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("sequence_id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	return fields
}

type (
	sourceCtxKey   struct{}
	sequenceCtxKey struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

// WithSource records the transcript path being processed.
func WithSource(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, sourceCtxKey{}, path)
}

// SourceFromContext returns the path set by WithSource.
func SourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceCtxKey{}).(string)
	return s
}

// WithSequenceID records the sequence being mutated.
func WithSequenceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sequenceCtxKey{}, id)
}

// SequenceIDFromContext returns the id set by WithSequenceID.
func SequenceIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sequenceCtxKey{}).(string)
	return s
}

// WithRequestID records an HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
