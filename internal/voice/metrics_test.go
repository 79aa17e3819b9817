package voice_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/internal/tools"
	"github.com/sirine-ai/sirine/internal/voice"
	"github.com/sirine-ai/sirine/pkg/audio"
	"github.com/sirine-ai/sirine/pkg/provider/live"
	livemock "github.com/sirine-ai/sirine/pkg/provider/live/mock"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
	llmmock "github.com/sirine-ai/sirine/pkg/provider/llm/mock"
	"github.com/sirine-ai/sirine/pkg/provider/stt"
	sttmock "github.com/sirine-ai/sirine/pkg/provider/stt/mock"
	"github.com/sirine-ai/sirine/pkg/provider/tts"
	ttsmock "github.com/sirine-ai/sirine/pkg/provider/tts/mock"
)

// newVoiceMetrics builds instruments on a manual reader so tests can pull
// the recorded samples directly.
func newVoiceMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// histogramSamples returns the total sample count recorded under name.
func histogramSamples(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var total uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a float64 histogram", name)
			}
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
		}
	}
	return total
}

func TestScheduler_RecordsScheduleLatency(t *testing.T) {
	m, reader := newVoiceMetrics(t)
	s := voice.NewPlaybackScheduler(
		voice.WithSchedulerClock(newFakeClock()),
		voice.WithSchedulerMetrics(m),
	)

	s.Enqueue(makeBuf(100 * time.Millisecond))
	s.Enqueue(makeBuf(100 * time.Millisecond))

	if got := histogramSamples(t, reader, "sirine.playback.schedule_latency"); got != 2 {
		t.Errorf("schedule latency samples = %d, want 2", got)
	}
}

func TestToolCall_RecordsExecutionDuration(t *testing.T) {
	m, reader := newVoiceMetrics(t)
	st := store.NewMemStore()
	sess := livemock.NewSession()
	clk := newFakeClock()
	orch := voice.NewOrchestrator(st, &livemock.Provider{Session: sess},
		audio.NewMemSource(16000, 1, 160), tools.NewDispatcher(st, nil),
		voice.NewPlaybackScheduler(voice.WithSchedulerClock(clk)), voice.Config{
			Instructions: "Tu es Sirine, l'assistante commerciale.",
		}, voice.WithClock(clk), voice.WithMetrics(m))
	t.Cleanup(orch.Stop)

	if err := orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.Emit(live.ToolCallEvent{Invocations: []live.ToolInvocation{{
		ID:   "call-1",
		Name: tools.ToolManageTodo,
		Args: []byte(`{"action":"list"}`),
	}}})
	waitFor(t, "tool result", func() bool { return len(sess.SentToolResults()) == 1 })

	if got := histogramSamples(t, reader, "sirine.tool_execution.duration"); got != 1 {
		t.Errorf("tool execution samples = %d, want 1", got)
	}
}

func TestFallback_RecordsSTTLatency(t *testing.T) {
	m, reader := newVoiceMetrics(t)
	st := store.NewMemStore()
	sttSess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
	src := audio.NewMemSource(16000, 1, 160)
	pipe := voice.NewFallbackPipeline(st, &sttmock.Provider{Session: sttSess},
		&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "D'accord."}},
		&ttsmock.Provider{SynthesizeChunks: [][]byte{modelPCM(240, 8000)}},
		src, voice.NewPlaybackScheduler(voice.WithSchedulerClock(newFakeClock())),
		voice.FallbackConfig{
			Instructions: "Tu es Sirine, l'assistante commerciale.",
			Voice:        tts.VoiceProfile{ID: "rachel"},
		},
		voice.WithFallbackMetrics(m))
	t.Cleanup(pipe.Stop)
	t.Cleanup(func() { close(sttSess.FinalsCh) })

	if err := pipe.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Loud speech first, so the pipeline has an end-of-speech reference
	// when the final transcript lands.
	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.5
	}
	src.Push(loud)
	waitFor(t, "audio forwarded", func() bool { return sttSess.SentAudioCount() >= 1 })

	sttSess.FinalsCh <- stt.Transcript{Text: "Bonjour", IsFinal: true}
	waitFor(t, "answer produced", func() bool { return st.Transcription().AI == "D'accord." })

	if got := histogramSamples(t, reader, "sirine.stt.duration"); got != 1 {
		t.Errorf("stt latency samples = %d, want 1", got)
	}
}
