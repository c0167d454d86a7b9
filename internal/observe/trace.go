package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// scope names the instrumentation scope of every dashvoice span.
const scope = "github.com/MrWong99/dashvoice"

// Span attribute keys.
const (
	// AttrEndpoint is the host of the session endpoint. The query string is
	// never recorded; it carries the token.
	AttrEndpoint = attribute.Key("dashvoice.endpoint")

	// AttrClientID is the client id sent on a connect attempt, empty before
	// the server assigned one.
	AttrClientID = attribute.Key("dashvoice.client_id")

	// AttrFailure is the short reason set by [FailSpan].
	AttrFailure = attribute.Key("dashvoice.failure")
)

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, opts...)
}

// StartConnectSpan starts the client span covering one connect attempt.
func StartConnectSpan(ctx context.Context, endpointHost, clientID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "transport.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrEndpoint.String(endpointHost),
			AttrClientID.String(clientID),
		),
	)
}

// FailSpan records err on span and marks it failed with reason.
func FailSpan(span trace.Span, err error, reason string) {
	span.RecordError(err)
	span.SetAttributes(AttrFailure.String(reason))
	span.SetStatus(codes.Error, reason)
}

// CorrelationID is the trace id of the span in ctx, or "" without one.
// HTTP responses carry it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
