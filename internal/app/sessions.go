package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sirine-ai/sirine/internal/config"
	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/internal/tools"
	"github.com/sirine-ai/sirine/internal/voice"
	"github.com/sirine-ai/sirine/pkg/audio"
	"github.com/sirine-ai/sirine/pkg/provider/tts"
)

// ErrSessionActive is returned by Start when a voice session is already
// connected or connecting.
var ErrSessionActive = errors.New("app: session already active")

// stopper is the common teardown surface of both voice pipelines.
type stopper interface {
	Stop()
}

// SessionController manages the lifecycle of voice sessions. Only one
// session can be active at a time (enforced by mutex). All exported methods
// are safe for concurrent use.
type SessionController struct {
	st         store.StateStore
	providers  *Providers
	dispatcher *tools.Dispatcher
	factory    func() audio.CaptureSource
	sink       func(voice.ScheduledChunk)
	metrics    *observe.Metrics
	log        *slog.Logger

	mu       sync.Mutex
	voiceCfg config.VoiceConfig
	persona  config.PersonaConfig
	active   stopper
	capture  audio.CaptureSource
}

func newSessionController(st store.StateStore, providers *Providers, dispatcher *tools.Dispatcher,
	vc config.VoiceConfig, pc config.PersonaConfig,
	factory func() audio.CaptureSource, sink func(voice.ScheduledChunk), metrics *observe.Metrics,
) *SessionController {
	return &SessionController{
		st:         st,
		providers:  providers,
		dispatcher: dispatcher,
		factory:    factory,
		sink:       sink,
		metrics:    metrics,
		log:        slog.Default(),
		voiceCfg:   vc,
		persona:    pc,
	}
}

// UpdateVoiceConfig replaces the voice tuning used by subsequent session
// starts. The active session, if any, keeps its original tuning.
func (c *SessionController) UpdateVoiceConfig(vc config.VoiceConfig) {
	c.mu.Lock()
	c.voiceCfg = vc
	c.mu.Unlock()
}

// Start brings up a voice session in the configured mode. "live" drives the
// speech-to-speech orchestrator, "hybrid" the STT, LLM, TTS cascade, and
// "auto" (the default) tries live first and falls back to the cascade when
// the live model is unavailable.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The maintenance gate holds for every mode, before any channel opens.
	if v, ok := c.st.GetSetting(store.SettingMaintenanceMode); ok && v == "true" {
		c.st.AddLog(store.LogInfo, "Système bloqué : Mode Maintenance Manager actif.")
		return errors.New("app: maintenance mode active")
	}

	if isLive, isConnecting := c.st.LiveState(); isLive || isConnecting {
		return ErrSessionActive
	}
	if c.active != nil {
		// Stale handle from a server-side close. Idempotent.
		c.active.Stop()
		c.active = nil
		c.capture = nil
	}

	mode := c.voiceCfg.Mode
	if mode == "" {
		mode = config.ModeAuto
	}

	switch mode {
	case config.ModeLive:
		return c.startLive(ctx)
	case config.ModeHybrid:
		return c.startHybrid(ctx)
	case config.ModeAuto:
		err := c.startLive(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, voice.ErrLiveUnavailable) || !c.hasCascade() {
			return err
		}
		c.log.Warn("live model unavailable, switching to hybrid mode", "err", err)
		return c.startHybrid(ctx)
	default:
		return fmt.Errorf("app: unknown session mode %q", mode)
	}
}

// startLive requires c.mu held.
func (c *SessionController) startLive(ctx context.Context) error {
	if c.providers.Live == nil {
		return errors.New("app: no live provider configured")
	}

	capture := c.factory()
	sched := c.newScheduler()
	orch := voice.NewOrchestrator(c.st, c.providers.Live, capture, c.dispatcher, sched,
		voice.Config{
			Voice:            c.voiceCfg.Voice,
			Instructions:     c.persona.Instructions,
			BargeInThreshold: c.voiceCfg.BargeInThreshold,
			BargeInCooldown:  c.voiceCfg.BargeInCooldown(),
			BargeInInterval:  c.voiceCfg.BargeInInterval(),
		},
		voice.WithLogger(c.log),
		voice.WithMetrics(c.metrics),
	)
	if err := orch.Start(ctx); err != nil {
		capture.Close()
		return err
	}

	c.active = orch
	c.capture = capture
	return nil
}

// startHybrid requires c.mu held.
func (c *SessionController) startHybrid(ctx context.Context) error {
	if !c.hasCascade() {
		return errors.New("app: hybrid mode needs stt, llm, and tts providers")
	}

	capture := c.factory()
	sched := c.newScheduler()
	pipe := voice.NewFallbackPipeline(c.st, c.providers.STT, c.providers.LLM, c.providers.TTS,
		capture, sched,
		voice.FallbackConfig{
			Instructions: c.persona.Instructions,
			Voice:        tts.VoiceProfile{Name: c.voiceCfg.Voice},
			Language:     c.voiceCfg.Language,
		},
		voice.WithFallbackLogger(c.log),
		voice.WithFallbackMetrics(c.metrics),
	)
	if err := pipe.Start(ctx); err != nil {
		capture.Close()
		return err
	}

	c.active = pipe
	c.capture = capture
	return nil
}

func (c *SessionController) newScheduler() *voice.PlaybackScheduler {
	opts := []voice.SchedulerOption{voice.WithSchedulerMetrics(c.metrics)}
	if c.sink != nil {
		opts = append(opts, voice.WithSink(c.sink))
	}
	return voice.NewPlaybackScheduler(opts...)
}

func (c *SessionController) hasCascade() bool {
	return c.providers.STT != nil && c.providers.LLM != nil && c.providers.TTS != nil
}

// Stop tears down the active session. Safe to call when nothing is running.
func (c *SessionController) Stop() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.capture = nil
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
}

// SetInputMute gates the microphone for the active session. The capture
// stream stays open so unmuting resumes instantly.
func (c *SessionController) SetInputMute(muted bool) {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()

	c.st.SetMicMuted(muted)
	if capture != nil {
		capture.SetEnabled(!muted)
	}
}

// Active reports whether a session is connected or connecting.
func (c *SessionController) Active() bool {
	isLive, isConnecting := c.st.LiveState()
	return isLive || isConnecting
}
