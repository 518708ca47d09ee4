// Package observe provides application-wide observability primitives for
// dmva: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so metrics can be scraped
// via the standard /metrics endpoint. [Metrics] implements [va.Recorder] and
// is handed to the session controller with [va.WithRecorder]. Tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dmva/pkg/va"
)

// meterName is the instrumentation scope name used for all dmva metrics.
const meterName = "github.com/MrWong99/dmva"

var _ va.Recorder = (*Metrics)(nil)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Controller ---

	// Admissions counts admission calls. Attributes: op, code.
	Admissions metric.Int64Counter

	// StateTransitions counts lifecycle transitions. Attributes: from, to.
	StateTransitions metric.Int64Counter

	// PendingOps tracks outstanding vocabulary operations.
	PendingOps metric.Int64UpDownCounter

	// OperationDuration tracks how long vocabulary operations were
	// outstanding. Attributes: kind, code.
	OperationDuration metric.Float64Histogram

	// DialogDuration tracks how long dialogs stayed active. Attribute: code.
	DialogDuration metric.Float64Histogram

	// Notifications counts observer notifications. Attribute: kind.
	Notifications metric.Int64Counter

	// --- Engine ---

	// BreakerTransitions counts dial circuit breaker transitions.
	// Attributes: name, from, to.
	BreakerTransitions metric.Int64Counter

	// VocabularyPreloads counts concepts written by preload files.
	// Attribute: status.
	VocabularyPreloads metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for dialog
// server round trips and spoken dialogs.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Admissions, err = m.Int64Counter("va.admissions",
		metric.WithDescription("Admission calls by operation and result code."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("va.state.transitions",
		metric.WithDescription("Session lifecycle transitions."),
	); err != nil {
		return nil, err
	}
	if met.PendingOps, err = m.Int64UpDownCounter("va.pending_operations",
		metric.WithDescription("Outstanding vocabulary operations."),
	); err != nil {
		return nil, err
	}
	if met.OperationDuration, err = m.Float64Histogram("va.operation.duration",
		metric.WithDescription("Time a vocabulary operation stayed pending."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DialogDuration, err = m.Float64Histogram("va.dialog.duration",
		metric.WithDescription("Time a dialog stayed active."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("va.notifications",
		metric.WithDescription("Observer notifications by kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("va.breaker.transitions",
		metric.WithDescription("Dial circuit breaker transitions."),
	); err != nil {
		return nil, err
	}
	if met.VocabularyPreloads, err = m.Int64Counter("va.vocabulary.preloads",
		metric.WithDescription("Concepts written by vocabulary preload files."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("va.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Admission implements [va.Recorder].
func (m *Metrics) Admission(op string, code va.ResultCode) {
	m.Admissions.Add(context.Background(), 1,
		metric.WithAttributes(Attr("op", op), Attr("code", code.String())),
	)
}

// Transition implements [va.Recorder].
func (m *Metrics) Transition(from, to va.LifecycleState) {
	m.StateTransitions.Add(context.Background(), 1,
		metric.WithAttributes(Attr("from", from.String()), Attr("to", to.String())),
	)
}

// PendingOperations implements [va.Recorder].
func (m *Metrics) PendingOperations(delta int64) {
	m.PendingOps.Add(context.Background(), delta)
}

// OperationDone implements [va.Recorder].
func (m *Metrics) OperationDone(kind va.OperationKind, code va.ResultCode, d time.Duration) {
	m.OperationDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(Attr("kind", kind.String()), Attr("code", code.String())),
	)
}

// DialogDone implements [va.Recorder].
func (m *Metrics) DialogDone(code va.ResultCode, d time.Duration) {
	m.DialogDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(Attr("code", code.String())),
	)
}

// Notification implements [va.Recorder].
func (m *Metrics) Notification(kind string) {
	m.Notifications.Add(context.Background(), 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordBreakerTransition counts a dial circuit breaker transition.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("name", name), Attr("from", from), Attr("to", to)),
	)
}

// RecordPreload counts concepts written by a vocabulary preload.
func (m *Metrics) RecordPreload(ctx context.Context, n int, status string) {
	m.VocabularyPreloads.Add(ctx, int64(n), metric.WithAttributes(Attr("status", status)))
}
