// Package observe wires OpenTelemetry metrics and tracing into scribe.
//
// Instruments live on [Metrics]; tests should build their own with
// [NewMetrics] and an [sdkmetric.ManualReader] rather than touching
// [DefaultMetrics]. [InitProvider] installs the SDK providers and exposes the
// metrics through a Prometheus registry for the /metrics endpoint.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all scribe metrics.
const meterName = "github.com/MrWong99/scribe"

// Metrics holds the application's metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// CaptureDuration records the audio length of each finished capture.
	CaptureDuration metric.Float64Histogram

	// STTDuration records transcription round-trip latency. Attributes:
	// provider, status.
	STTDuration metric.Float64Histogram

	// RulesApplied counts correction rules that changed a transcript.
	// Attribute: rule.
	RulesApplied metric.Int64Counter

	// ProviderRequests counts STT backend calls. Attributes: provider, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts STT backend failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// provider, to.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks captures currently recording.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration records API request latency. Attributes: method,
	// route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for clip-length
// audio and batch transcription round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureDuration, err = m.Float64Histogram("scribe.capture.duration",
		metric.WithDescription("Length of captured audio clips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("scribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RulesApplied, err = m.Int64Counter("scribe.correction.rules_applied",
		metric.WithDescription("Correction rules that changed a transcript, by rule."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("scribe.provider.requests",
		metric.WithDescription("STT backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("scribe.provider.errors",
		metric.WithDescription("STT backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("scribe.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("scribe.active_sessions",
		metric.WithDescription("Number of captures currently recording."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// DefaultMetrics returns a process-wide [Metrics] built on
// [otel.GetMeterProvider] at first use. Panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription records one STT call: latency, a request count and,
// when kind is non-empty, an error count.
func (m *Metrics) RecordTranscription(ctx context.Context, provider string, d time.Duration, kind string) {
	status := "ok"
	if kind != "" {
		status = "error"
	}
	attrs := metric.WithAttributes(Attr("provider", provider), Attr("status", status))
	m.STTDuration.Record(ctx, d.Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	if kind != "" {
		m.RecordProviderError(ctx, provider, kind)
	}
}

// RecordProviderError increments the error counter for provider.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordRule increments the rule counter.
func (m *Metrics) RecordRule(ctx context.Context, rule string) {
	m.RulesApplied.Add(ctx, 1, metric.WithAttributes(Attr("rule", rule)))
}

// RecordBreakerTransition increments the breaker transition counter.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("to", to)),
	)
}
