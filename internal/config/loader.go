package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames maps each provider kind to the names the binary ships
// factories for. [Validate] warns about names outside these lists but does
// not reject them, since third-party factories may register more.
var ValidProviderNames = map[string][]string{
	"live":   {"gemini"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":    {"whisper", "deepgram"},
	"tts":    {"elevenlabs"},
	"imagen": {"gemini", "openai"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result. Tests
// feed it string literals instead of files.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for coherence and returns every failure it finds as one
// joined error. Suspicious but workable values only produce log warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	warnUnknownProviders(cfg)

	mode := cfg.Voice.Mode
	if mode != "" && !mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is invalid; valid values: live, hybrid, auto", mode))
	}

	// An explicit mode must name every provider it runs on. The default mode
	// is picked at wiring time from whatever providers exist, so an empty
	// mode needs no cross-check here.
	require := func(label, key, name string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("voice.mode %q requires %s provider but providers.%s is not configured", mode, label, key))
		}
	}
	if mode == ModeLive || mode == ModeAuto {
		require("a live", "live", cfg.Providers.Live.Name)
	}
	if mode == ModeHybrid || mode == ModeAuto {
		require("an STT", "stt", cfg.Providers.STT.Name)
		require("an LLM", "llm", cfg.Providers.LLM.Name)
		require("a TTS", "tts", cfg.Providers.TTS.Name)
	}

	if cfg.Voice.Voice != "" && !slices.Contains(PrebuiltVoices, cfg.Voice.Voice) {
		slog.Warn("unknown prebuilt voice, the live model may reject it",
			"voice", cfg.Voice.Voice,
			"known", PrebuiltVoices,
		)
	}
	if t := cfg.Voice.BargeInThreshold; t != 0 && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("voice.barge_in_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Voice.BargeInCooldownMs < 0 {
		errs = append(errs, fmt.Errorf("voice.barge_in_cooldown_ms must not be negative"))
	}
	if cfg.Voice.BargeInIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("voice.barge_in_interval_ms must not be negative"))
	}

	if cfg.Providers.Imagen.Name == "" {
		slog.Warn("providers.imagen is not configured; the marketing poster tool will answer with a failure")
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; leads, todos, and logs will not survive a restart")
	}

	return errors.Join(errs...)
}

// warnUnknownProviders logs a warning for every configured provider name,
// primary or fallback, that is absent from [ValidProviderNames].
func warnUnknownProviders(cfg *Config) {
	configured := map[string][]ProviderEntry{
		"live":   {cfg.Providers.Live},
		"llm":    append([]ProviderEntry{cfg.Providers.LLM}, cfg.Providers.LLM.Fallbacks...),
		"stt":    append([]ProviderEntry{cfg.Providers.STT}, cfg.Providers.STT.Fallbacks...),
		"tts":    append([]ProviderEntry{cfg.Providers.TTS}, cfg.Providers.TTS.Fallbacks...),
		"imagen": {cfg.Providers.Imagen},
	}
	for kind, entries := range configured {
		known := ValidProviderNames[kind]
		for _, entry := range entries {
			if entry.Name == "" || slices.Contains(known, entry.Name) {
				continue
			}
			slog.Warn("provider name is not a built-in, may be a typo or a third-party factory",
				"kind", kind,
				"name", entry.Name,
				"known", known,
			)
		}
	}
}
