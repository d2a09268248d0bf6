package observe_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lask3802/live-translator/internal/observe"
)

// newTestMetrics builds a Metrics over a manual reader so tests can
// collect recorded data without global state.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collectMetricNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	names := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	if m.ASRDuration == nil || m.LLMDuration == nil || m.VADEvents == nil ||
		m.Segments == nil || m.ActiveSessions == nil || m.HTTPRequestDuration == nil {
		t.Fatal("NewMetrics left an instrument nil")
	}
}

func TestMetrics_RecordedValuesAreCollectable(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ASRDuration.Record(ctx, 0.35)
	m.LLMDuration.Record(ctx, 1.2, metric.WithAttributes(attribute.String("op", "correct")))
	m.VADEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "start")))
	m.VADEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "commit")))
	m.Segments.Add(ctx, 3)
	m.ActiveSessions.Add(ctx, 1)

	names := collectMetricNames(t, reader)
	for _, want := range []string{
		"live_translator.asr.duration",
		"live_translator.llm.duration",
		"live_translator.vad.events",
		"live_translator.segments",
		"live_translator.active_sessions",
	} {
		if !names[want] {
			t.Errorf("metric %q not collected; have %v", want, names)
		}
	}
}
