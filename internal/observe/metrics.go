// Package observe provides application-wide observability primitives for
// Sirine: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and surface on /metrics
// via the Prometheus bridge installed by [InitProvider]. [DefaultMetrics]
// is the shared application instance; tests build their own with
// [NewMetrics] and a private [metric.MeterProvider] so runs stay isolated.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Sirine instruments.
const meterName = "github.com/sirine-ai/sirine"

// Metrics bundles every instrument the engine records. All fields are safe
// for concurrent use.
type Metrics struct {
	// STTDuration is speech-to-text latency in the fallback pipeline: the
	// delay between the end of user speech and its final transcript.
	STTDuration metric.Float64Histogram

	// LLMDuration is LLM inference latency in the fallback pipeline.
	LLMDuration metric.Float64Histogram

	// TTSDuration is text-to-speech synthesis latency in the fallback
	// pipeline.
	TTSDuration metric.Float64Histogram

	// ScheduleLatency is the delay between a model audio chunk arriving
	// and its assigned playback slot.
	ScheduleLatency metric.Float64Histogram

	// ToolExecutionDuration is tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// HTTPRequestDuration is control-plane HTTP latency, attributed by
	// method and path.
	HTTPRequestDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls, attributed by provider,
	// kind, and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures, attributed by provider and
	// kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations, attributed by tool name.
	ToolCalls metric.Int64Counter

	// BargeIns counts user interruptions of assistant playback, whether
	// detected locally or signalled by the server.
	BargeIns metric.Int64Counter

	// PostersGenerated counts marketing posters produced by the studio
	// tool.
	PostersGenerated metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets covers voice-pipeline latencies from 10ms to 10s.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// instrumentSet accumulates the first instrument-creation error so NewMetrics
// reads as a flat list of declarations.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func (s *instrumentSet) latencyHistogram(name, desc string) metric.Float64Histogram {
	h, err := s.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil && s.err == nil {
		s.err = err
	}
	return h
}

func (s *instrumentSet) counter(name, desc string) metric.Int64Counter {
	c, err := s.meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil && s.err == nil {
		s.err = err
	}
	return c
}

func (s *instrumentSet) upDownCounter(name, desc string) metric.Int64UpDownCounter {
	c, err := s.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if err != nil && s.err == nil {
		s.err = err
	}
	return c
}

// NewMetrics registers every instrument on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	s := &instrumentSet{meter: mp.Meter(meterName)}

	met := &Metrics{
		STTDuration:           s.latencyHistogram("sirine.stt.duration", "Latency of speech-to-text transcription."),
		LLMDuration:           s.latencyHistogram("sirine.llm.duration", "Latency of LLM inference."),
		TTSDuration:           s.latencyHistogram("sirine.tts.duration", "Latency of text-to-speech synthesis."),
		ScheduleLatency:       s.latencyHistogram("sirine.playback.schedule_latency", "Delay between audio chunk arrival and its playback slot."),
		ToolExecutionDuration: s.latencyHistogram("sirine.tool_execution.duration", "Latency of tool execution."),
		ProviderRequests:      s.counter("sirine.provider.requests", "Total provider API requests by provider, kind, and status."),
		ProviderErrors:        s.counter("sirine.provider.errors", "Total provider errors by provider and kind."),
		ToolCalls:             s.counter("sirine.tool.calls", "Total tool invocations by tool name."),
		BargeIns:              s.counter("sirine.voice.barge_ins", "Total user interruptions of assistant playback."),
		PostersGenerated:      s.counter("sirine.studio.posters", "Total marketing posters generated."),
		ActiveSessions:        s.upDownCounter("sirine.active_sessions", "Number of live voice sessions."),
	}
	if s.err != nil {
		return nil, s.err
	}

	hist, err := s.meter.Float64Histogram("sirine.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	met.HTTPRequestDuration = hist

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared [Metrics] instance, created on first use
// from the global meter provider. It panics if instrument creation fails,
// which the global provider does not do.
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

// Attr shortens [attribute.String] at metric call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments [Metrics.ProviderRequests] with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments [Metrics.ProviderErrors].
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
