// Package observe provides application-wide observability primitives for
// Ekho: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
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
)

// meterName is the instrumentation scope name used for all Ekho metrics.
const meterName = "github.com/RyderBlack/Ekho"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks end-to-end transcription latency. Use with
	// attributes: provider, task, status.
	TranscriptionDuration metric.Float64Histogram

	// ProviderRequests counts calls to transcription backends. Use with
	// attributes: provider, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures. Use with attributes:
	// provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: breaker, state.
	BreakerTransitions metric.Int64Counter

	// Identifications counts name-matching outcomes. Use with attribute:
	// status (recognized, unrecognized, no_name_pattern).
	Identifications metric.Int64Counter

	// RosterLoads counts roster imports. Use with attributes: source
	// (csv, xlsx, sheet, file), status.
	RosterLoads metric.Int64Counter

	// ActiveSessions tracks the number of live browser sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// transcriptionBuckets covers hosted models that can take tens of seconds on
// a cold start.
var transcriptionBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("ekho.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(transcriptionBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("ekho.provider.requests",
		metric.WithDescription("Total transcription backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ekho.provider.errors",
		metric.WithDescription("Total transcription backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("ekho.circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}
	if met.Identifications, err = m.Int64Counter("ekho.identifications",
		metric.WithDescription("Name identification outcomes by status."),
	); err != nil {
		return nil, err
	}
	if met.RosterLoads, err = m.Int64Counter("ekho.roster.loads",
		metric.WithDescription("Roster imports by source and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("ekho.active_sessions",
		metric.WithDescription("Number of live browser sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("ekho.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Call it after [InitProvider] so instruments bind to the real
// provider.
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

// RecordTranscription records one transcription: its latency, the request
// counter and, on failure, the error counter.
func (m *Metrics) RecordTranscription(ctx context.Context, provider, task string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("provider", provider), Attr("task", task), Attr("status", status)),
	)
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("status", status)),
	)
	if err != nil {
		m.RecordProviderError(ctx, provider, "transcribe")
	}
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("breaker", breaker), Attr("state", state)),
	)
}

// RecordIdentification records one name-matching outcome.
func (m *Metrics) RecordIdentification(ctx context.Context, status string) {
	m.Identifications.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordRosterLoad records a roster import attempt.
func (m *Metrics) RecordRosterLoad(ctx context.Context, source string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RosterLoads.Add(ctx, 1, metric.WithAttributes(Attr("source", source), Attr("status", status)))
}
