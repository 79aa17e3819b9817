package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirine-ai/sirine/internal/config"
	"github.com/sirine-ai/sirine/internal/store"
	livemock "github.com/sirine-ai/sirine/pkg/provider/live/mock"
)

func newHTTPFixture(t *testing.T) (*App, *http.ServeMux, store.StateStore) {
	t.Helper()

	st := store.NewMemStore()
	cfg := &config.Config{
		Voice:   config.VoiceConfig{Mode: config.ModeLive, Voice: "Zephyr"},
		Persona: config.PersonaConfig{Instructions: "Tu es Sirine."},
	}
	a, err := New(context.Background(), cfg, &Providers{Live: &livemock.Provider{}},
		WithStateStore(st),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.sessions.Stop() })

	mux := http.NewServeMux()
	a.health.Register(mux)
	a.registerControlRoutes(mux)
	return a, mux, st
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStateEndpoint(t *testing.T) {
	_, mux, st := newHTTPFixture(t)

	st.SetMode(store.ModeTalking)
	st.SetAudioLevel(0.42)
	st.SetTranscription(store.TranscriptUser, "Bonjour")
	st.SetTranscription(store.TranscriptAI, "Bonjour ! Comment puis-je vous aider ?")
	st.IncrementRequests()

	rec := doJSON(t, mux, http.MethodGet, "/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp stateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mode != store.ModeTalking {
		t.Errorf("mode = %q", resp.Mode)
	}
	if resp.AudioLevel != 0.42 {
		t.Errorf("audio_level = %v", resp.AudioLevel)
	}
	if resp.UserText != "Bonjour" {
		t.Errorf("user_text = %q", resp.UserText)
	}
	if resp.Requests != 1 {
		t.Errorf("requests_today = %d", resp.Requests)
	}
}

func TestSessionEndpoints(t *testing.T) {
	_, mux, st := newHTTPFixture(t)

	rec := doJSON(t, mux, http.MethodPost, "/v1/session/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body)
	}
	if isLive, _ := st.LiveState(); !isLive {
		t.Error("session not live after start")
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/session/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/session/mute", `{"muted": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mute status = %d", rec.Code)
	}
	if !st.MicMuted() {
		t.Error("store not muted after mute call")
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/session/mute", `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad mute body status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if isLive, isConnecting := st.LiveState(); isLive || isConnecting {
		t.Error("session still live after stop")
	}
}

func TestStartEndpoint_ProviderFailure(t *testing.T) {
	st := store.NewMemStore()
	cfg := &config.Config{Voice: config.VoiceConfig{Mode: config.ModeLive}}
	a, err := New(context.Background(), cfg,
		&Providers{Live: &livemock.Provider{ConnectErr: context.DeadlineExceeded}},
		WithStateStore(st),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mux := http.NewServeMux()
	a.registerControlRoutes(mux)

	rec := doJSON(t, mux, http.MethodPost, "/v1/session/start", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("start status = %d, want 502", rec.Code)
	}
}

func TestReadyzReportsBusySession(t *testing.T) {
	_, mux, st := newHTTPFixture(t)

	rec := doJSON(t, mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("idle readyz status = %d", rec.Code)
	}

	st.SetLiveState(true, false)
	rec = doJSON(t, mux, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("busy readyz status = %d, want 503", rec.Code)
	}
}
