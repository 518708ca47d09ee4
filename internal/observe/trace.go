package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dmva/pkg/va"
)

// tracerName is the instrumentation scope name for the dmva tracer.
const tracerName = "github.com/MrWong99/dmva"

// Tracer returns the dmva tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with trace_id and span_id attributes
// when ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// RecordFault annotates the span in ctx with the VA result code of err and
// marks it failed. A nil err only sets the success code.
func RecordFault(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	code := va.CodeOf(err)
	span.SetAttributes(attribute.String("va.result_code", code.String()))
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, code.String())
}
