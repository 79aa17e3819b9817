// Package voice implements the realtime voice session: capture forwarding,
// gapless playback scheduling, barge-in detection, and the orchestrator
// state machine that ties the live model session to the shared state store.
//
// The orchestrator owns the session lifecycle. Start connects the live
// provider, spawns the capture, event, and barge-in goroutines, and registers
// the session in the store; Stop tears all of it down and is safe to call
// any number of times. A stopped orchestrator can be started again.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/internal/tools"
	"github.com/sirine-ai/sirine/pkg/audio"
	"github.com/sirine-ai/sirine/pkg/provider/live"
)

// ErrLiveUnavailable is returned by [Orchestrator.Start] when the live model
// is missing or not enabled for the API key, as opposed to a transient
// connection failure. Callers use it to decide whether switching to the
// fallback pipeline is worthwhile.
var ErrLiveUnavailable = errors.New("voice: live model unavailable")

// errAlreadyRunning guards double Start.
var errAlreadyRunning = errors.New("voice: session already running")

const (
	// defaultVoice is the prebuilt voice used when no setting overrides it.
	defaultVoice = "Zephyr"

	// textTurnMinimum and textTurnPerChar size the simulated talking window
	// for turns that produce a transcript but no audio.
	textTurnMinimum = 2 * time.Second
	textTurnPerChar = 50 * time.Millisecond

	// The live session expects 16 kHz mono input. Capture sources that run
	// at a different rate or channel count are normalized before upload.
	captureRate     = 16000
	captureChannels = 1
)

// Config tunes the orchestrator. The zero value is usable; every field has
// a default applied in [NewOrchestrator].
type Config struct {
	// Voice is the prebuilt voice name requested from the live model.
	// Overridden at Start by the selected_voice setting when present.
	Voice string

	// Instructions is the base system instruction. The system_instruction
	// and catalog settings extend it at Start.
	Instructions string

	// BargeInThreshold is the normalized input level above which user
	// speech interrupts playback.
	BargeInThreshold float64

	// BargeInCooldown is the minimum delay between two interruptions.
	BargeInCooldown time.Duration

	// BargeInInterval is how often the input level is sampled while the
	// assistant is talking.
	BargeInInterval time.Duration
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithMetrics attaches metric instruments. Without it no metrics are
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock replaces the wall clock used for the text-turn timer.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// Orchestrator drives one live voice session at a time against the shared
// state store. All exported methods are safe for concurrent use.
type Orchestrator struct {
	store    store.StateStore
	provider live.Provider
	capture  audio.CaptureSource
	sched    *PlaybackScheduler
	tools    *tools.Dispatcher
	detector *BargeInDetector
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	clock    Clock

	// inputLevel holds the most recent capture level as float64 bits, read
	// by the barge-in loop without touching the capture goroutine.
	inputLevel atomic.Uint64

	mu        sync.Mutex
	running   bool
	session   live.SessionHandle
	sessionID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Turn state, owned by the event loop goroutine.
	turnHadAudio bool
	turnChars    int
	textTimer    Timer
}

// NewOrchestrator wires an orchestrator. The scheduler must have been
// created by the caller; the orchestrator registers its own drain handling
// on top of whatever sink the scheduler carries.
func NewOrchestrator(st store.StateStore, provider live.Provider, capture audio.CaptureSource, dispatcher *tools.Dispatcher, sched *PlaybackScheduler, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.BargeInThreshold <= 0 {
		cfg.BargeInThreshold = DefaultBargeInThreshold
	}
	if cfg.BargeInCooldown <= 0 {
		cfg.BargeInCooldown = DefaultBargeInCooldown
	}
	if cfg.BargeInInterval <= 0 {
		cfg.BargeInInterval = DefaultBargeInInterval
	}

	o := &Orchestrator{
		store:    st,
		provider: provider,
		capture:  capture,
		sched:    sched,
		tools:    dispatcher,
		detector: NewBargeInDetector(cfg.BargeInThreshold, cfg.BargeInCooldown),
		cfg:      cfg,
		log:      slog.Default(),
		clock:    realClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	sched.onDrained = o.handleDrained
	return o
}

// Start connects the live session and begins streaming. It returns
// [ErrLiveUnavailable] when the configured model cannot be used, so the
// caller can fall back to the cascade pipeline.
func (o *Orchestrator) Start(ctx context.Context) error {
	if v, ok := o.store.GetSetting(store.SettingMaintenanceMode); ok && v == "true" {
		o.store.AddLog(store.LogInfo, "Système bloqué : Mode Maintenance Manager actif.")
		return errors.New("voice: maintenance mode active")
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errAlreadyRunning
	}
	o.running = true
	o.mu.Unlock()

	o.store.SetLiveState(false, true)
	o.store.IncrementSessions()

	cfg := live.SessionConfig{
		Voice:        o.selectedVoice(),
		Instructions: o.buildInstructions(),
		Tools:        o.tools.Declarations(),
	}

	sess, err := o.provider.Connect(ctx, cfg)
	if err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		o.store.SetLiveState(false, false)
		o.recordProviderError(ctx)
		if live.IsModelUnavailable(err) {
			o.store.AddLog(store.LogError, "Modèle AI introuvable ou obsolète. Vérifiez la configuration.")
			return fmt.Errorf("%w: %w", ErrLiveUnavailable, err)
		}
		o.store.AddLog(store.LogError, "Erreur critique de la session Live API.")
		return fmt.Errorf("voice: connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	if !o.running {
		// Stop won the race while Connect was in flight and already reset
		// the store. Hand back the session instead of resurrecting it.
		o.mu.Unlock()
		cancel()
		_ = sess.Close()
		return errors.New("voice: session stopped during connect")
	}
	sessionID := o.store.StartSession(store.ActiveSession{
		CurrentMode:  store.ModeIdle,
		IsConnected:  true,
		UserLanguage: "fr-FR",
	})
	o.session = sess
	o.sessionID = sessionID
	o.cancel = cancel
	o.mu.Unlock()

	o.store.SetLiveState(true, false)
	o.store.SetMode(store.ModeIdle)
	o.store.AddLog(store.LogInfo, "Canal Live API Sirine ouvert.")
	o.recordSessionDelta(runCtx, 1)

	o.wg.Go(func() { o.forwardCapture(sess) })
	o.wg.Go(func() { o.eventLoop(runCtx, sess, sessionID) })
	o.wg.Go(func() { o.bargeLoop(runCtx, sess) })

	return nil
}

// Stop tears the session down: barge-in loop, capture, live session,
// playback, and store state. Safe to call when nothing is running.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	sess := o.session
	sessionID := o.sessionID
	cancel := o.cancel
	o.session = nil
	o.sessionID = ""
	o.cancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
		o.recordSessionDelta(context.Background(), -1)
	}
	// Closing the capture source ends its frame stream, which releases the
	// forwarding goroutine. A new Start needs a fresh source.
	_ = o.capture.Close()
	o.sched.StopAll()
	o.detector.Reset()
	o.wg.Wait()
	o.cancelTextTimer()

	if sessionID != "" {
		o.store.EndSession(sessionID)
	}
	o.store.SetLiveState(false, false)
	o.store.SetMode(store.ModeIdle)
	o.store.SetAudioLevel(0)
	o.log.Info("voice session stopped")
}

// SetInputMute toggles the capture source without tearing the session down.
// Unmuting therefore needs no reconnect.
func (o *Orchestrator) SetInputMute(muted bool) {
	o.store.SetMicMuted(muted)
	o.capture.SetEnabled(!muted)
	o.log.Info("input mute changed", "muted", muted)
}

// SetUserLanguage records a language change on the running session. The
// live model adapts mid-conversation, so no restart is required.
func (o *Orchestrator) SetUserLanguage(lang string) {
	o.mu.Lock()
	sessionID := o.sessionID
	o.mu.Unlock()
	if sessionID == "" {
		return
	}

	var prev string
	o.store.UpdateSession(sessionID, func(s *store.ActiveSession) {
		prev = s.UserLanguage
		s.UserLanguage = lang
	})
	if prev != "" && prev != lang {
		o.store.AddLog(store.LogInfo, fmt.Sprintf("Changement de langue détecté (%s → %s)", prev, lang))
	}
}

// ── Internal loops ──────────────────────────────────────────────────────────

// forwardCapture streams microphone frames to the live session and keeps the
// input level fresh for the barge-in loop and the UI meter. Frames are
// normalized to the session's 16 kHz mono input format on the way through.
func (o *Orchestrator) forwardCapture(sess live.SessionHandle) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: captureRate, Channels: captureChannels}}
	for frame := range o.capture.Frames() {
		level := audio.FrameLevel(frame)
		o.inputLevel.Store(math.Float64bits(level))
		if o.store.Mode() != store.ModeTalking {
			o.store.SetAudioLevel(level)
		}

		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			continue
		}
		if err := sess.SendAudio(frame.Data); err != nil {
			if errors.Is(err, live.ErrSessionClosed) {
				return
			}
			o.log.Warn("send audio failed", "err", err)
		}
	}
}

// eventLoop consumes the ordered server event stream until it closes.
func (o *Orchestrator) eventLoop(ctx context.Context, sess live.SessionHandle, sessionID string) {
	for ev := range sess.Events() {
		switch ev := ev.(type) {
		case live.AudioChunkEvent:
			o.handleAudioChunk(ev, sessionID)

		case live.TranscriptionEvent:
			o.handleTranscription(ev, sessionID)

		case live.ToolCallEvent:
			o.handleToolCalls(ctx, sess, ev)

		case live.GroundingEvent:
			sources := make([]store.GroundingSource, len(ev.Chunks))
			for i, c := range ev.Chunks {
				sources[i] = store.GroundingSource{URI: c.URI, Title: c.Title}
			}
			o.store.SetGroundingSources(sources)

		case live.InterruptedEvent:
			// The server noticed user speech before the local detector did.
			o.sched.StopAll()
			o.detector.Reset()
			o.store.SetMode(store.ModeIdle)

		case live.TurnCompleteEvent:
			o.handleTurnComplete()

		case live.ErrorEvent:
			o.recordProviderError(ctx)
			if live.IsModelUnavailable(ev.Err) {
				o.store.AddLog(store.LogError, "Modèle AI introuvable ou obsolète. Vérifiez la configuration.")
			} else {
				o.store.AddLog(store.LogError, "Erreur critique de la session Live API.")
			}
			o.log.Error("live session error", "err", ev.Err)
			// A session error always ends the session. Stop closes it, which
			// in turn closes the event stream and releases this loop.
			go o.Stop()

		case live.ClosedEvent:
			// The receive loop closes the channel right after this event.
		}
	}

	o.store.AddLog(store.LogInfo, "Session terminée.")

	// The session died on its own; release everything else unless Stop is
	// already doing it.
	go o.Stop()
}

// handleAudioChunk schedules one piece of model speech and flips the UI to
// talking. The first chunk of a turn counts as one model request.
func (o *Orchestrator) handleAudioChunk(ev live.AudioChunkEvent, sessionID string) {
	buf, err := audio.DecodeAudioBuffer(ev.PCM, ev.SampleRate, captureChannels)
	if err != nil {
		o.log.Warn("undecodable audio chunk", "err", err)
		return
	}

	if !o.turnHadAudio {
		o.turnHadAudio = true
		o.store.IncrementRequests()
		o.store.UpdateSession(sessionID, func(s *store.ActiveSession) {
			s.RequestsCount++
		})
	}
	o.cancelTextTimer()
	o.store.SetMode(store.ModeTalking)
	o.store.SetAudioLevel(audio.Level(buf.Samples))
	o.sched.Enqueue(*buf)
}

func (o *Orchestrator) handleTranscription(ev live.TranscriptionEvent, sessionID string) {
	switch ev.Source {
	case live.SourceUser:
		o.store.SetTranscription(store.TranscriptUser, ev.Text)
	case live.SourceAssistant:
		o.store.SetTranscription(store.TranscriptAI, ev.Text)
		o.turnChars += len(ev.Text)
		if !o.turnHadAudio && ev.Text != "" {
			// Text arriving without audio enters the simulated talking phase
			// right away; each further fragment extends the window.
			if o.turnChars == len(ev.Text) {
				o.store.AddLog(store.LogInfo, "Réponse textuelle: "+ev.Text)
			}
			o.startTextTurnWindow()
		}
	}
	o.store.UpdateSession(sessionID, func(s *store.ActiveSession) {
		s.Transcription = o.store.Transcription()
	})
}

// handleToolCalls runs each invocation to completion and answers the model.
// The model expects one response per call before it continues the turn.
func (o *Orchestrator) handleToolCalls(ctx context.Context, sess live.SessionHandle, ev live.ToolCallEvent) {
	o.store.SetMode(store.ModeThinking)
	for _, inv := range ev.Invocations {
		start := time.Now()
		result := o.tools.Dispatch(ctx, inv)
		o.recordToolCall(ctx, inv.Name, time.Since(start))
		if err := sess.SendToolResult(inv.ID, inv.Name, result); err != nil {
			o.log.Warn("send tool result failed", "tool", inv.Name, "err", err)
		}
		o.store.SetMode(store.ModeIdle)
	}
}

// handleTurnComplete closes out the turn. A turn that produced a transcript
// but no audio keeps its talking window running so the UI does not snap
// straight back to idle.
func (o *Orchestrator) handleTurnComplete() {
	if !o.turnHadAudio && o.turnChars > 0 {
		o.startTextTurnWindow()
	}
	o.turnHadAudio = false
	o.turnChars = 0
}

// startTextTurnWindow simulates a talking phase for a response that arrived
// as text without audio. The window is sized to the accumulated text and
// re-armed on every call.
func (o *Orchestrator) startTextTurnWindow() {
	o.store.SetMode(store.ModeTalking)
	window := time.Duration(o.turnChars) * textTurnPerChar
	if window < textTurnMinimum {
		window = textTurnMinimum
	}
	o.cancelTextTimer()
	o.textTimer = o.clock.AfterFunc(window, func() {
		if !o.sched.Playing() {
			o.store.SetMode(store.ModeIdle)
		}
	})
}

// bargeLoop samples the input level while the assistant talks and cuts
// playback when the user speaks over it.
func (o *Orchestrator) bargeLoop(ctx context.Context, sess live.SessionHandle) {
	ticker := time.NewTicker(o.cfg.BargeInInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			level := math.Float64frombits(o.inputLevel.Load())
			if o.detector.Observe(now, o.store.Mode(), level) {
				o.handleBargeIn(ctx, sess)
			}
		}
	}
}

// handleBargeIn performs the local interruption: stop playback, tell the
// server to discard its buffered response, and hand the floor back.
func (o *Orchestrator) handleBargeIn(ctx context.Context, sess live.SessionHandle) {
	o.sched.StopAll()
	if err := sess.SendInterrupt(); err != nil && !errors.Is(err, live.ErrSessionClosed) {
		o.log.Warn("send interrupt failed", "err", err)
	}
	o.store.SetMode(store.ModeIdle)
	o.store.AddLog(store.LogInfo, "🔇 Interruption détectée")
	o.recordBargeIn(ctx)
}

// handleDrained fires when the last scheduled chunk finishes playing.
func (o *Orchestrator) handleDrained() {
	o.store.SetMode(store.ModeIdle)
	o.store.SetAudioLevel(0)
	o.detector.Reset()
}

func (o *Orchestrator) cancelTextTimer() {
	if o.textTimer != nil {
		o.textTimer.Stop()
		o.textTimer = nil
	}
}

// ── Configuration plumbing ──────────────────────────────────────────────────

// selectedVoice prefers the operator's stored choice over the static config.
func (o *Orchestrator) selectedVoice() string {
	if v, ok := o.store.GetSetting(store.SettingSelectedVoice); ok && v != "" {
		return v
	}
	return o.cfg.Voice
}

// buildInstructions assembles the system instruction: stored override or
// static base, extended with the product catalog when one is configured.
func (o *Orchestrator) buildInstructions() string {
	instructions := o.cfg.Instructions
	if v, ok := o.store.GetSetting(store.SettingSystemInstruction); ok && v != "" {
		instructions = v
	}
	if catalog, ok := o.store.GetSetting(store.SettingCatalog); ok && catalog != "" {
		instructions += "\n\nCatalogue produits :\n" + catalog
	}
	return instructions
}

// ── Metrics ─────────────────────────────────────────────────────────────────

func (o *Orchestrator) recordSessionDelta(ctx context.Context, delta int64) {
	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, delta)
	}
}

func (o *Orchestrator) recordBargeIn(ctx context.Context) {
	if o.metrics != nil {
		o.metrics.BargeIns.Add(ctx, 1)
	}
}

func (o *Orchestrator) recordToolCall(ctx context.Context, tool string, d time.Duration) {
	if o.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("tool", tool))
		o.metrics.ToolCalls.Add(ctx, 1, attrs)
		o.metrics.ToolExecutionDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (o *Orchestrator) recordProviderError(ctx context.Context) {
	if o.metrics != nil {
		o.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", "gemini"),
			attribute.String("kind", "live"),
		))
	}
}
