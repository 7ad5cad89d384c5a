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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Environment variables that override the corresponding api_key fields, so
// credentials can stay out of config files.
const (
	EnvSTTAPIKey = "VOXGATE_STT_API_KEY"
	EnvLLMAPIKey = "VOXGATE_LLM_API_KEY"
	EnvTTSAPIKey = "VOXGATE_TTS_API_KEY"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides applied. It is a convenience wrapper
// around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides replaces API keys with their environment variable values
// when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvSTTAPIKey); v != "" {
		cfg.Providers.STT.APIKey = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		cfg.Providers.LLM.APIKey = v
	}
	if v := os.Getenv(EnvTTSAPIKey); v != "" {
		cfg.Providers.TTS.APIKey = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// The voice pipeline needs all three stages.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Audio.MinChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("audio.min_chunk_bytes %d must not be negative", cfg.Audio.MinChunkBytes))
	}
	if cfg.Audio.SweepIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("audio.sweep_interval_ms %d must not be negative", cfg.Audio.SweepIntervalMs))
	}
	if cfg.Audio.VADThresholdBytes < 0 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold_bytes %d must not be negative", cfg.Audio.VADThresholdBytes))
	}
	if cfg.Session.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("session.max_history %d must not be negative", cfg.Session.MaxHistory))
	}
	if cfg.Session.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("session.timeout_ms %d must not be negative", cfg.Session.TimeoutMs))
	}
	if cfg.Session.ReapIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("session.reap_interval_ms %d must not be negative", cfg.Session.ReapIntervalMs))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
