package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirine-ai/sirine/internal/app"
	"github.com/sirine-ai/sirine/internal/config"
	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/pkg/audio"
	livemock "github.com/sirine-ai/sirine/pkg/provider/live/mock"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
	llmmock "github.com/sirine-ai/sirine/pkg/provider/llm/mock"
	"github.com/sirine-ai/sirine/pkg/provider/stt"
	sttmock "github.com/sirine-ai/sirine/pkg/provider/stt/mock"
	ttsmock "github.com/sirine-ai/sirine/pkg/provider/tts/mock"
)

// appFixture wires an App against mocks for every provider slot. The STT
// session's channels are caller-owned, so the fixture closes the finals
// channel before the hybrid pipeline is torn down.
type appFixture struct {
	app      *app.App
	st       store.StateStore
	liveP    *livemock.Provider
	liveSess *livemock.Session
	sttP     *sttmock.Provider
	sttSess  *sttmock.Session
	captures []*audio.MemSource
}

func newAppFixture(t *testing.T, cfg *config.Config) *appFixture {
	t.Helper()

	f := &appFixture{
		st:       store.NewMemStore(),
		liveSess: livemock.NewSession(),
		sttSess: &sttmock.Session{
			PartialsCh: make(chan stt.Transcript, 16),
			FinalsCh:   make(chan stt.Transcript, 16),
		},
	}
	f.liveP = &livemock.Provider{Session: f.liveSess}
	f.sttP = &sttmock.Provider{Session: f.sttSess}

	providers := &app.Providers{
		Live: f.liveP,
		STT:  f.sttP,
		LLM:  &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "D'accord."}},
		TTS:  &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0, 0, 0}}},
	}

	a, err := app.New(context.Background(), cfg, providers,
		app.WithStateStore(f.st),
		app.WithCaptureFactory(func() audio.CaptureSource {
			src := audio.NewMemSource(16000, 1, 160)
			f.captures = append(f.captures, src)
			return src
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a

	t.Cleanup(func() {
		close(f.sttSess.FinalsCh)
		a.Sessions().Stop()
	})
	return f
}

func baseAppConfig(mode config.SessionMode) *config.Config {
	return &config.Config{
		Voice: config.VoiceConfig{
			Mode:  mode,
			Voice: "Zephyr",
		},
		Persona: config.PersonaConfig{
			Instructions: "Tu es Sirine, l'assistante commerciale.",
		},
	}
}

func hasAppLog(st store.StateStore, substr string) bool {
	for _, entry := range st.Logs() {
		if strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}

func TestSessionStart_LiveMode(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeLive))
	ctrl := f.app.Sessions()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.liveP.Connects() != 1 {
		t.Fatalf("Connects = %d, want 1", f.liveP.Connects())
	}
	if !ctrl.Active() {
		t.Error("controller not active after Start")
	}
	if isLive, isConnecting := f.st.LiveState(); !isLive || isConnecting {
		t.Errorf("LiveState = (%v, %v), want (true, false)", isLive, isConnecting)
	}

	if err := ctrl.Start(context.Background()); !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second Start = %v, want ErrSessionActive", err)
	}

	ctrl.Stop()
	if ctrl.Active() {
		t.Error("controller still active after Stop")
	}
	if !f.liveSess.Closed() {
		t.Error("live session not closed by Stop")
	}
}

func TestSessionStart_AutoFallsBackOnUnavailableModel(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeAuto))
	f.liveP.ConnectErr = errors.New("model gemini-x is not supported")

	if err := f.app.Sessions().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := len(f.sttP.StartStreamCalls); n != 1 {
		t.Fatalf("StartStreamCalls = %d, want 1", n)
	}
	if !hasAppLog(f.st, "Mode Hybride ElevenLabs activé.") {
		t.Error("hybrid activation log missing")
	}
	if !f.app.Sessions().Active() {
		t.Error("controller not active in hybrid mode")
	}
}

func TestSessionStart_AutoKeepsCriticalLiveError(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeAuto))
	f.liveP.ConnectErr = errors.New("websocket handshake refused")

	if err := f.app.Sessions().Start(context.Background()); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if n := len(f.sttP.StartStreamCalls); n != 0 {
		t.Errorf("StartStreamCalls = %d, want 0 (no fallback on critical errors)", n)
	}
	if f.app.Sessions().Active() {
		t.Error("controller active after failed Start")
	}
}

func TestSessionStart_MaintenanceBlocks(t *testing.T) {
	cfg := baseAppConfig(config.ModeLive)
	cfg.Maintenance.Enabled = true
	f := newAppFixture(t, cfg)

	if err := f.app.Sessions().Start(context.Background()); err == nil {
		t.Fatal("Start succeeded under maintenance mode")
	}
	if f.liveP.Connects() != 0 {
		t.Errorf("Connects = %d, want 0", f.liveP.Connects())
	}
	if !hasAppLog(f.st, "Maintenance") {
		t.Error("maintenance refusal log missing")
	}
}

func TestSessionStart_MaintenanceBlocksHybridMode(t *testing.T) {
	cfg := baseAppConfig(config.ModeHybrid)
	cfg.Maintenance.Enabled = true
	f := newAppFixture(t, cfg)

	if err := f.app.Sessions().Start(context.Background()); err == nil {
		t.Fatal("hybrid Start succeeded under maintenance mode")
	}
	if n := len(f.sttP.StartStreamCalls); n != 0 {
		t.Errorf("StartStreamCalls = %d, want 0", n)
	}
	if f.app.Sessions().Active() {
		t.Error("controller active under maintenance")
	}
	if !hasAppLog(f.st, "Maintenance") {
		t.Error("maintenance refusal log missing")
	}
}

func TestSessionStart_HybridNeedsCascadeProviders(t *testing.T) {
	cfg := baseAppConfig(config.ModeHybrid)
	a, err := app.New(context.Background(), cfg,
		&app.Providers{Live: &livemock.Provider{}},
		app.WithStateStore(store.NewMemStore()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Sessions().Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without stt/llm/tts providers")
	}
}

func TestSessionStart_UnknownModeFails(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.SessionMode("turbo")))

	err := f.app.Sessions().Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "turbo") {
		t.Fatalf("Start = %v, want unknown-mode error naming the mode", err)
	}
}

func TestSetInputMute_GatesCapture(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeLive))
	ctrl := f.app.Sessions()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.captures) != 1 {
		t.Fatalf("captures created = %d, want 1", len(f.captures))
	}
	src := f.captures[0]

	ctrl.SetInputMute(true)
	if !f.st.MicMuted() {
		t.Error("store not marked muted")
	}
	if src.Enabled() {
		t.Error("capture source still enabled while muted")
	}

	ctrl.SetInputMute(false)
	if f.st.MicMuted() {
		t.Error("store still marked muted")
	}
	if !src.Enabled() {
		t.Error("capture source not re-enabled")
	}
}

func TestRestart_UsesFreshCapture(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeLive))
	ctrl := f.app.Sessions()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	ctrl.Stop()
	f.liveP.Session = livemock.NewSession()
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if len(f.captures) != 2 {
		t.Errorf("captures created = %d, want 2", len(f.captures))
	}
}

func TestApplyConfigDiff_UpdatesSettings(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeLive))

	next := baseAppConfig(config.ModeLive)
	next.Persona.Instructions = "Tu es Sirine, agente T.T.A."
	next.Persona.Catalog = "Rocket Appartamento - 4200 TND"
	next.Voice.Voice = "Kore"
	next.Maintenance.Enabled = true

	f.app.ApplyConfigDiff(config.Diff(baseAppConfig(config.ModeLive), next), next)

	if v, _ := f.st.GetSetting(store.SettingSystemInstruction); v != next.Persona.Instructions {
		t.Errorf("system_instruction = %q", v)
	}
	if v, _ := f.st.GetSetting(store.SettingCatalog); v != next.Persona.Catalog {
		t.Errorf("catalog = %q", v)
	}
	if v, _ := f.st.GetSetting(store.SettingSelectedVoice); v != "Kore" {
		t.Errorf("selected_voice = %q", v)
	}
	if v, _ := f.st.GetSetting(store.SettingMaintenanceMode); v != "true" {
		t.Errorf("maintenance_mode = %q", v)
	}
	if !hasAppLog(f.st, "Maintenance Manager activé") {
		t.Error("maintenance toggle log missing")
	}
}

func TestNew_SeedsSettingsFromConfig(t *testing.T) {
	cfg := baseAppConfig(config.ModeLive)
	cfg.Persona.Catalog = "Marzocco GS3 - 18500 TND"
	f := newAppFixture(t, cfg)

	if v, _ := f.st.GetSetting(store.SettingSystemInstruction); !strings.Contains(v, "Tu es Sirine") {
		t.Errorf("system_instruction = %q", v)
	}
	if v, _ := f.st.GetSetting(store.SettingCatalog); v != cfg.Persona.Catalog {
		t.Errorf("catalog = %q", v)
	}
	if v, _ := f.st.GetSetting(store.SettingSelectedVoice); v != "Zephyr" {
		t.Errorf("selected_voice = %q", v)
	}
	if v, _ := f.st.GetSetting(store.SettingMaintenanceMode); v != "false" {
		t.Errorf("maintenance_mode = %q", v)
	}
}

func TestShutdown_StopsSessionAndIsIdempotent(t *testing.T) {
	f := newAppFixture(t, baseAppConfig(config.ModeLive))

	if err := f.app.Sessions().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.app.Sessions().Active() {
		t.Error("session still active after Shutdown")
	}
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
