package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirine-ai/sirine/pkg/provider/stt"
	"github.com/sirine-ai/sirine/pkg/provider/stt/whisper"
)

// newInferenceServer fakes a whisper-server: POST /inference answers with
// responseText and bumps *calls when non-nil.
func newInferenceServer(t *testing.T, responseText string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

// speechPCM builds a 440 Hz sine at amplitude 10000, whose RMS of roughly
// 7071 sits far above the detector's silence floor.
func speechPCM(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// silencePCM builds an all-zero buffer of the given sample count.
func silencePCM(samples int) []byte {
	return make([]byte, samples*2)
}

func startSession(t *testing.T, p *whisper.Provider) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

// ── Construction ────────────────────────────────────────────────────────────

func TestNew_EmptyServerURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("New accepted an empty serverURL")
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("fr"),
		whisper.WithSampleRate(16000),
		whisper.WithSilenceThresholdMs(300),
		whisper.WithMaxBufferDurationMs(5000),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p == nil {
		t.Fatal("New returned a nil Provider")
	}
}

// ── Session lifecycle ───────────────────────────────────────────────────────

func TestStartStream_HandleIsReady(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := startSession(t, p)

	if h.Partials() == nil {
		t.Error("Partials() returned a nil channel")
	}
	if h.Finals() == nil {
		t.Error("Finals() returned a nil channel")
	}
}

func TestStartStream_CancelledContext(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("StartStream succeeded on a cancelled context")
	}
}

func TestSetKeywords_Unsupported(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := startSession(t, p)

	err := h.SetKeywords([]stt.KeywordBoost{{Keyword: "Marzocco", Boost: 5}})
	if !errors.Is(err, stt.ErrNotSupported) {
		t.Fatalf("SetKeywords err = %v, want ErrNotSupported", err)
	}
	if err := h.SetKeywords(nil); err == nil {
		t.Fatal("SetKeywords(nil) succeeded")
	}
}

// ── Silence detection and buffering ─────────────────────────────────────────

func TestSilenceAloneDoesNotTriggerInference(t *testing.T) {
	var calls atomic.Int32
	srv := newInferenceServer(t, "inattendu", &calls)
	defer srv.Close()

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(50),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	// One second of pure silence.
	_ = h.SendAudio(silencePCM(16000))

	time.Sleep(150 * time.Millisecond)
	h.Close()

	if n := calls.Load(); n != 0 {
		t.Errorf("inference called %d time(s) for silence-only audio, want 0", n)
	}
}

func TestSpeechThenSilenceFlushes(t *testing.T) {
	const wantText = "Bonjour, je cherche une machine espresso"
	srv := newInferenceServer(t, wantText, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(100),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	// 100 ms of speech then 100 ms of silence crosses the threshold.
	if err := h.SendAudio(speechPCM(1600)); err != nil {
		t.Fatalf("SendAudio (speech): %v", err)
	}
	if err := h.SendAudio(silencePCM(1600)); err != nil {
		t.Fatalf("SendAudio (silence): %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != wantText {
			t.Errorf("Finals().Text = %q, want %q", tr.Text, wantText)
		}
		if !tr.IsFinal {
			t.Error("final transcript has IsFinal = false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for final transcript")
	}
}

func TestPartialArrivesWithFinal(t *testing.T) {
	const wantText = "Quel est le prix de la Linea Mini"
	srv := newInferenceServer(t, wantText, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(100),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	_ = h.SendAudio(speechPCM(1600))
	_ = h.SendAudio(silencePCM(1600))

	select {
	case tr := <-h.Partials():
		if tr.Text != wantText {
			t.Errorf("Partials().Text = %q, want %q", tr.Text, wantText)
		}
		if tr.IsFinal {
			t.Error("partial transcript has IsFinal = true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for partial transcript")
	}
}

func TestMaxBufferForcesFlush(t *testing.T) {
	const wantText = "Avez-vous des moulins en stock"
	srv := newInferenceServer(t, wantText, nil)
	defer srv.Close()

	// The silence threshold is unreachable; only the 200 ms buffer cap can
	// trigger the flush.
	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(10_000),
		whisper.WithMaxBufferDurationMs(200),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	// 210 ms of continuous speech.
	if err := h.SendAudio(speechPCM(3360)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Finals():
		if tr.Text != wantText {
			t.Errorf("Finals().Text = %q, want %q", tr.Text, wantText)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forced-flush transcript")
	}
}

// ── Close ───────────────────────────────────────────────────────────────────

func TestClose_ClosesTranscriptChannels(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := startSession(t, p)
	h.Close()

	for name, ch := range map[string]<-chan stt.Transcript{"Partials": h.Partials(), "Finals": h.Finals()} {
		select {
		case _, open := <-ch:
			if open {
				t.Errorf("%s channel still open after Close", name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s channel to close", name)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := startSession(t, p)

	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSendAudio_AfterClose(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	h := startSession(t, p)
	h.Close()

	// Give the segment loop a moment to exit.
	time.Sleep(50 * time.Millisecond)

	if err := h.SendAudio(speechPCM(100)); err == nil {
		t.Fatal("SendAudio succeeded on a closed session")
	}
}

func TestClose_FlushesBufferedSpeech(t *testing.T) {
	const wantText = "Merci, à bientôt"
	srv := newInferenceServer(t, wantText, nil)
	defer srv.Close()

	// The silence threshold never fires; only Close can flush.
	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(60_000),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	_ = h.SendAudio(speechPCM(1600))
	// Let the chunk reach the segment loop before closing.
	time.Sleep(50 * time.Millisecond)

	h.Close()

	// Close drains through the channel close; any transcript that made it
	// out must carry the flushed text.
	for tr := range h.Finals() {
		if tr.Text != wantText {
			t.Errorf("close-flush transcript = %q, want %q", tr.Text, wantText)
		}
	}
}

// ── Error handling ──────────────────────────────────────────────────────────

func TestInference_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(100),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	_ = h.SendAudio(speechPCM(1600))
	_ = h.SendAudio(silencePCM(1600))

	// The failed inference must surface as silence, not a panic or a bogus
	// transcript.
	select {
	case tr, open := <-h.Finals():
		if open {
			t.Errorf("got final %q despite server error", tr.Text)
		}
	case <-time.After(3 * time.Second):
		// Still running with nothing emitted. Fine.
	}
}

func TestInference_EmptyTextDropped(t *testing.T) {
	srv := newInferenceServer(t, "", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(100),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	_ = h.SendAudio(speechPCM(1600))
	_ = h.SendAudio(silencePCM(1600))

	select {
	case tr := <-h.Finals():
		if tr.Text == "" {
			t.Error("empty-text transcript reached Finals")
		}
	case <-time.After(2 * time.Second):
		// Nothing emitted for an empty server response. Correct.
	}
}

func TestConcurrentSendAudio(t *testing.T) {
	srv := newInferenceServer(t, "bonjour", nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL,
		whisper.WithSilenceThresholdMs(100),
		whisper.WithSampleRate(16000),
	)
	h := startSession(t, p)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				_ = h.SendAudio(speechPCM(160))
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
}
