// Package app wires all Sirine subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control and observability endpoints, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStateStore, WithCaptureFactory, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sirine-ai/sirine/internal/config"
	"github.com/sirine-ai/sirine/internal/health"
	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/internal/store"
	"github.com/sirine-ai/sirine/internal/store/postgres"
	"github.com/sirine-ai/sirine/internal/tools"
	"github.com/sirine-ai/sirine/internal/voice"
	"github.com/sirine-ai/sirine/pkg/audio"
	"github.com/sirine-ai/sirine/pkg/provider/imagen"
	"github.com/sirine-ai/sirine/pkg/provider/live"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
	"github.com/sirine-ai/sirine/pkg/provider/stt"
	"github.com/sirine-ai/sirine/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Live   live.Provider
	LLM    llm.Provider
	STT    stt.Provider
	TTS    tts.Provider
	Imagen imagen.Provider
}

// App owns all subsystem lifetimes and serves the Sirine voice engine.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store      store.StateStore
	pinger     health.Pinger
	dispatcher *tools.Dispatcher
	sessions   *SessionController
	health     *health.Handler
	metrics    *observe.Metrics

	captureFactory func() audio.CaptureSource
	sink           func(voice.ScheduledChunk)

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStateStore injects a state store instead of creating one from config.
func WithStateStore(s store.StateStore) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics attaches metric instruments to the session pipelines and the
// HTTP surface. Without it no metrics are recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCaptureFactory sets how a fresh microphone source is obtained for each
// session. Stopping a session closes its capture source, so every Start
// needs a new one.
func WithCaptureFactory(fn func() audio.CaptureSource) Option {
	return func(a *App) { a.captureFactory = fn }
}

// WithPlaybackSink registers the callback receiving scheduled playback
// chunks. Without it scheduled audio is tracked but not delivered anywhere.
func WithPlaybackSink(fn func(voice.ScheduledChunk)) Option {
	return func(a *App) { a.sink = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection and
// hydration, settings seeding from config, tool dispatcher assembly, and the
// session controller.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.captureFactory == nil {
		a.captureFactory = func() audio.CaptureSource {
			return audio.NewMemSource(16000, 1, 0)
		}
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	a.seedSettings()

	a.dispatcher = tools.NewDispatcher(a.store, providers.Imagen)
	a.sessions = newSessionController(a.store, providers, a.dispatcher, cfg.Voice, cfg.Persona,
		a.captureFactory, a.sink, a.metrics)

	a.health = health.New(
		health.Database(a.pinger),
		health.SessionFree(a.store.LiveState),
	)

	return a, nil
}

// initStore connects the configured store. PostgreSQL when a DSN is set,
// in-memory otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		pg, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return fmt.Errorf("app: open postgres store: %w", err)
		}
		if err := pg.Load(ctx); err != nil {
			slog.Warn("store hydration failed, starting cold", "err", err)
		}
		a.store = pg
		a.pinger = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		slog.Info("state store ready", "backend", "postgres")
		return nil
	}

	a.store = store.NewMemStore()
	slog.Info("state store ready", "backend", "memory")
	return nil
}

// seedSettings pushes the static config into the settings KV so the voice
// pipelines and the config reload path read from one place.
func (a *App) seedSettings() {
	if v := a.cfg.Persona.Instructions; v != "" {
		a.store.SetSetting(store.SettingSystemInstruction, v)
	}
	if v := a.cfg.Persona.Catalog; v != "" {
		a.store.SetSetting(store.SettingCatalog, v)
	}
	if v := a.cfg.Voice.Voice; v != "" {
		a.store.SetSetting(store.SettingSelectedVoice, v)
	}
	a.store.SetSetting(store.SettingMaintenanceMode, boolSetting(a.cfg.Maintenance.Enabled))
}

func boolSetting(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Store exposes the shared state store. Read-only callers (UI bridges,
// diagnostics) observe session state through it.
func (a *App) Store() store.StateStore { return a.store }

// Sessions exposes the session controller.
func (a *App) Sessions() *SessionController { return a.sessions }

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfigDiff folds a changed configuration into the running engine.
// Persona, voice, and maintenance changes land in the settings KV and take
// effect on the next session start; barge-in tuning is handed to the session
// controller. Log level changes are handled by the caller, which owns the
// logger.
func (a *App) ApplyConfigDiff(d config.ConfigDiff, cfg *config.Config) {
	if !d.Changed() {
		return
	}

	if d.PersonaChanged {
		a.store.SetSetting(store.SettingSystemInstruction, cfg.Persona.Instructions)
		a.store.SetSetting(store.SettingCatalog, cfg.Persona.Catalog)
		slog.Info("persona reloaded")
	}
	if d.MaintenanceChanged {
		a.store.SetSetting(store.SettingMaintenanceMode, boolSetting(d.MaintenanceEnabled))
		if d.MaintenanceEnabled {
			a.store.AddLog(store.LogInfo, "Mode Maintenance Manager activé.")
		} else {
			a.store.AddLog(store.LogInfo, "Mode Maintenance Manager désactivé.")
		}
	}
	if d.VoiceChanged {
		a.store.SetSetting(store.SettingSelectedVoice, d.NewVoice)
		slog.Info("voice changed", "voice", d.NewVoice)
	}
	if d.VoiceChanged || d.BargeInChanged {
		a.sessions.UpdateVoiceConfig(cfg.Voice)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP surface (health probes, Prometheus metrics, and the
// session control API) until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.registerControlRoutes(mux)

	var handler http.Handler = mux
	if a.metrics != nil {
		handler = observe.Middleware(a.metrics)(mux)
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("app running", "addr", addr, "mode", a.cfg.Voice.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = srv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(stopCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active voice session and runs all registered closers.
// Respects ctx for a deadline. Safe to call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop the voice session first so nothing writes through a
		// closing store.
		a.sessions.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
