package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics builds a Metrics instance on a ManualReader so tests can
// pull data points directly.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the int64 sum data point whose attributes
// match all entries in want, failing the test when none exists. An empty
// want matches the first data point.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want map[string]string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		matched := true
		for k, v := range want {
			if got, ok := dp.Attributes.Value(attribute.Key(k)); !ok || got.AsString() != v {
				matched = false
				break
			}
		}
		if matched {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point matching %v", name, want)
	return 0
}

// histCount returns the sample count of the first data point of a float64
// histogram.
func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a float64 histogram", name)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return hist.DataPoints[0].Count
}

// ── Histograms ──

func TestPipelineHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	stages := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"sirine.stt.duration", m.STTDuration},
		{"sirine.llm.duration", m.LLMDuration},
		{"sirine.tts.duration", m.TTSDuration},
		{"sirine.playback.schedule_latency", m.ScheduleLatency},
		{"sirine.tool_execution.duration", m.ToolExecutionDuration},
	}
	for _, s := range stages {
		s.h.Record(ctx, 0.123)
		s.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, s := range stages {
		t.Run(s.name, func(t *testing.T) {
			if got := histCount(t, rm, s.name); got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	if got := histCount(t, rm, "sirine.http.request.duration"); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

// ── Counters ──

func TestProviderRequests_SplitByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	ok := metric.WithAttributes(
		attribute.String("provider", "openai"),
		attribute.String("kind", "llm"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, ok)
	m.ProviderRequests.Add(ctx, 1, ok)
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", "openai"),
		attribute.String("kind", "llm"),
		attribute.String("status", "error"),
	))

	rm := collect(t, reader)
	if got := sumValue(t, rm, "sirine.provider.requests", map[string]string{"status": "ok"}); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumValue(t, rm, "sirine.provider.requests", map[string]string{"status": "error"}); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
}

func TestToolCalls_LabelledByTool(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(attribute.String("tool", "manageTodoList"))
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolCalls.Add(ctx, 1, attrs)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "sirine.tool.calls", map[string]string{"tool": "manageTodoList"}); got != 2 {
		t.Errorf("tool calls = %d, want 2", got)
	}
}

func TestBargeIns(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for range 3 {
		m.BargeIns.Add(ctx, 1)
	}

	rm := collect(t, reader)
	if got := sumValue(t, rm, "sirine.voice.barge_ins", nil); got != 3 {
		t.Errorf("barge-ins = %d, want 3", got)
	}
}

func TestRecordProviderError(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordProviderError(context.Background(), "elevenlabs", "tts")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "sirine.provider.errors", map[string]string{"provider": "elevenlabs"}); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

// ── Gauges ──

func TestActiveSessions_UpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "sirine.active_sessions", nil); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

// ── Singleton ──

func TestDefaultMetrics_Stable(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
