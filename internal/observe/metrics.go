// Package observe provides application-wide observability primitives for
// the live translator: OpenTelemetry metrics, tracing, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/lask3802/live-translator"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// ASRDuration tracks batch transcription latency per committed
	// utterance.
	ASRDuration metric.Float64Histogram

	// LLMDuration tracks one correction or translation round-trip. Use
	// with attribute.String("op", "correct"|"translate").
	LLMDuration metric.Float64Histogram

	// VADEvents counts utterance boundary events. Use with
	// attribute.String("event", "start"|"commit").
	VADEvents metric.Int64Counter

	// Segments counts transcript segments emitted to clients.
	Segments metric.Int64Counter

	// ActiveSessions tracks the number of live audio sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized
// for the pipeline's latencies: tens of milliseconds for transcription up
// to seconds for LLM round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ASRDuration, err = m.Float64Histogram("live_translator.asr.duration",
		metric.WithDescription("Latency of batch transcription per committed utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("live_translator.llm.duration",
		metric.WithDescription("Latency of correction and translation round-trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VADEvents, err = m.Int64Counter("live_translator.vad.events",
		metric.WithDescription("Utterance boundary events by kind."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("live_translator.segments",
		metric.WithDescription("Transcript segments emitted to clients."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("live_translator.active_sessions",
		metric.WithDescription("Live audio streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("live_translator.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}
