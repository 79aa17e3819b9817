// Command sirine is the main entry point for the Sirine voice engine server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/sirine-ai/sirine/internal/app"
	"github.com/sirine-ai/sirine/internal/config"
	"github.com/sirine-ai/sirine/internal/observe"
	"github.com/sirine-ai/sirine/internal/resilience"
	"github.com/sirine-ai/sirine/pkg/provider/imagen"
	geminiimagen "github.com/sirine-ai/sirine/pkg/provider/imagen/gemini"
	openaiimagen "github.com/sirine-ai/sirine/pkg/provider/imagen/openai"
	"github.com/sirine-ai/sirine/pkg/provider/live"
	geminilive "github.com/sirine-ai/sirine/pkg/provider/live/gemini"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
	"github.com/sirine-ai/sirine/pkg/provider/llm/anyllm"
	openaillm "github.com/sirine-ai/sirine/pkg/provider/llm/openai"
	"github.com/sirine-ai/sirine/pkg/provider/stt"
	"github.com/sirine-ai/sirine/pkg/provider/stt/deepgram"
	"github.com/sirine-ai/sirine/pkg/provider/stt/whisper"
	"github.com/sirine-ai/sirine/pkg/provider/tts"
	"github.com/sirine-ai/sirine/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sirine: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sirine: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("sirine starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sirine",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metric instruments", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyConfigDiff(d, new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ──

// builtinProviders lists the implementations shipped with Sirine per
// category, for startup logging.
var builtinProviders = map[string][]string{
	"live":   {"gemini"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":    {"deepgram", "whisper"},
	"tts":    {"elevenlabs"},
	"imagen": {"gemini", "openai"},
}

// registerBuiltinProviders wires every built-in factory into reg. Each
// factory turns a config.ProviderEntry into a concrete provider.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	// openai uses the native client; the other cloud LLMs go through any-llm
	// with optional APIKey and BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(entry.BaseURL))
		}
		return openaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; BaseURL is its address and no key is needed.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterImagen("gemini", func(entry config.ProviderEntry) (imagen.Provider, error) {
		var opts []geminiimagen.Option
		if entry.Model != "" {
			opts = append(opts, geminiimagen.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminiimagen.WithBaseURL(entry.BaseURL))
		}
		return geminiimagen.New(entry.APIKey, opts...), nil
	})

	reg.RegisterImagen("openai", func(entry config.ProviderEntry) (imagen.Provider, error) {
		var opts []openaiimagen.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaiimagen.WithBaseURL(entry.BaseURL))
		}
		return openaiimagen.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// createProvider instantiates the provider named in entry. ok is false when
// the entry is empty or no factory is registered under its name; both are
// tolerated so partial configs still boot.
func createProvider[P any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (P, error)) (p P, ok bool, err error) {
	if entry.Name == "" {
		return p, false, nil
	}
	p, err = factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("no factory for provider, skipping", "kind", kind, "name", entry.Name)
		var zero P
		return zero, false, nil
	}
	if err != nil {
		var zero P
		return zero, false, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	return p, true, nil
}

// addFallbacks instantiates each fallback entry and attaches it to group.
// A fallback that fails to build is logged and dropped; the primary still
// serves.
func addFallbacks[P any](kind string, group interface{ AddFallback(string, P) }, entries []config.ProviderEntry, factory func(config.ProviderEntry) (P, error)) {
	for _, fb := range entries {
		fp, err := factory(fb)
		if err != nil {
			slog.Warn("skipping "+kind+" fallback", "name", fb.Name, "err", err)
			continue
		}
		group.AddFallback(fb.Name, fp)
	}
}

// buildProviders instantiates everything named in cfg and returns the set
// the application consumes. LLM, STT, and TTS entries with fallbacks get
// wrapped in circuit-breaking fallback groups.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if p, ok, err := createProvider("live", cfg.Providers.Live, reg.CreateLive); err != nil {
		return nil, err
	} else if ok {
		ps.Live = p
	}

	if p, ok, err := createProvider("llm", cfg.Providers.LLM, reg.CreateLLM); err != nil {
		return nil, err
	} else if ok {
		ps.LLM = p
		if fbs := cfg.Providers.LLM.Fallbacks; len(fbs) > 0 {
			group := resilience.NewLLMFallback(p, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
			addFallbacks("llm", group, fbs, reg.CreateLLM)
			ps.LLM = group
		}
	}

	if p, ok, err := createProvider("stt", cfg.Providers.STT, reg.CreateSTT); err != nil {
		return nil, err
	} else if ok {
		ps.STT = p
		if fbs := cfg.Providers.STT.Fallbacks; len(fbs) > 0 {
			group := resilience.NewSTTFallback(p, cfg.Providers.STT.Name, resilience.FallbackConfig{})
			addFallbacks("stt", group, fbs, reg.CreateSTT)
			ps.STT = group
		}
	}

	if p, ok, err := createProvider("tts", cfg.Providers.TTS, reg.CreateTTS); err != nil {
		return nil, err
	} else if ok {
		ps.TTS = p
		if fbs := cfg.Providers.TTS.Fallbacks; len(fbs) > 0 {
			group := resilience.NewTTSFallback(p, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
			addFallbacks("tts", group, fbs, reg.CreateTTS)
			ps.TTS = group
		}
	}

	if p, ok, err := createProvider("imagen", cfg.Providers.Imagen, reg.CreateImagen); err != nil {
		return nil, err
	} else if ok {
		ps.Imagen = p
	}

	return ps, nil
}

// ── Startup summary ──

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Sirine startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Imagen", cfg.Providers.Imagen.Name, cfg.Providers.Imagen.Model)
	mode := string(cfg.Voice.Mode)
	if mode == "" {
		mode = string(config.ModeAuto)
	}
	fmt.Printf("║  Session mode    : %-19s ║\n", mode)
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Printf("║  Store           : %-19s ║\n", store)
	if cfg.Maintenance.Enabled {
		fmt.Printf("║  Maintenance     : %-19s ║\n", "ACTIVE")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ──

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString reads a string value out of a provider Options map. It returns
// "" when the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
