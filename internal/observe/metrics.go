// Package observe provides application-wide observability primitives for
// dashvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them into a Prometheus registry scraped at /metrics. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dashvoice metrics.
const meterName = "github.com/MrWong99/dashvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SendDuration tracks how long a single WebSocket write takes.
	SendDuration metric.Float64Histogram

	// ConnectDuration tracks WebSocket dial latency, successful or not.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// MessagesSent counts outbound messages. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	MessagesSent metric.Int64Counter

	// MessagesReceived counts inbound messages. Use with attribute:
	//   attribute.String("type", ...)
	MessagesReceived metric.Int64Counter

	// MessagesDropped counts messages that were discarded. Use with attributes:
	//   attribute.String("type", ...), attribute.String("reason", ...)
	MessagesDropped metric.Int64Counter

	// Reconnects counts scheduled reconnect attempts. Use with attribute:
	//   attribute.String("reason", ...)
	Reconnects metric.Int64Counter

	// Turns counts user speech turns that reached the server.
	Turns metric.Int64Counter

	// HostCommands counts capability calls made on the host. Use with
	// attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	HostCommands metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ServerSpeaking is 1 while server speech is being played back.
	ServerSpeaking metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips on a local network.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SendDuration, err = m.Float64Histogram("dashvoice.transport.send.duration",
		metric.WithDescription("Latency of a single WebSocket write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("dashvoice.transport.connect.duration",
		metric.WithDescription("Latency of WebSocket connection attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesSent, err = m.Int64Counter("dashvoice.transport.messages.sent",
		metric.WithDescription("Total outbound messages by type and status."),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("dashvoice.transport.messages.received",
		metric.WithDescription("Total inbound messages by type."),
	); err != nil {
		return nil, err
	}
	if met.MessagesDropped, err = m.Int64Counter("dashvoice.messages.dropped",
		metric.WithDescription("Total discarded messages by type and reason."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("dashvoice.transport.reconnects",
		metric.WithDescription("Total scheduled reconnect attempts by reason."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("dashvoice.capture.turns",
		metric.WithDescription("Total user speech turns sent to the server."),
	); err != nil {
		return nil, err
	}
	if met.HostCommands, err = m.Int64Counter("dashvoice.host.commands",
		metric.WithDescription("Total host capability calls by command and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dashvoice.active_sessions",
		metric.WithDescription("Number of running voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ServerSpeaking, err = m.Int64UpDownCounter("dashvoice.server_speaking",
		metric.WithDescription("1 while server speech is being played back."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dashvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordMessageSent records an outbound message with its type and status
// ("ok" or "error").
func (m *Metrics) RecordMessageSent(ctx context.Context, typ, status string) {
	m.MessagesSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("status", status),
		),
	)
}

// RecordMessageReceived records an inbound message of the given type.
func (m *Metrics) RecordMessageReceived(ctx context.Context, typ string) {
	m.MessagesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", typ)),
	)
}

// RecordDrop records a discarded message.
func (m *Metrics) RecordDrop(ctx context.Context, typ, reason string) {
	m.MessagesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("reason", reason),
		),
	)
}

// RecordReconnect records a scheduled reconnect.
func (m *Metrics) RecordReconnect(ctx context.Context, reason string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordHostCommand records a host capability call.
func (m *Metrics) RecordHostCommand(ctx context.Context, command, status string) {
	m.HostCommands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
