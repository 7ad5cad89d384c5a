// Package config provides the configuration schema, loader, and provider
// registry for the Voxgate gateway.
package config

// LogLevel controls log verbosity for the Voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`

	// STTJunkPhrases replaces the built-in list of hallucinated transcripts
	// that are suppressed instead of surfaced. Empty keeps the defaults.
	STTJunkPhrases []string `yaml:"stt_junk_phrases"`

	// LLMSystemPrompt is the system prompt prepended to every conversation.
	// The "{client_name}" placeholder is substituted with the session's
	// client name.
	LLMSystemPrompt string `yaml:"llm_system_prompt"`
}

// ServerConfig holds network and logging settings for the Voxgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// EnableMetrics exposes Prometheus metrics at /metrics when true.
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "deepgram", "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Overridable via the VOXGATE_STT_API_KEY, VOXGATE_LLM_API_KEY, and
	// VOXGATE_TTS_API_KEY environment variables.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "nova-3", "gpt-4o-mini", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// Language is the recognition or synthesis language code where the
	// provider supports one (e.g., "es", "en-US").
	Language string `yaml:"language"`

	// Voice is the provider-specific default voice identifier (TTS only).
	Voice string `yaml:"voice"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig tunes the audio queues and the buffered STT strategy.
type AudioConfig struct {
	// MinChunkBytes is the size below which a chunk is too short to
	// recognize on its own; smaller chunks accumulate until the sweep.
	// Only used by buffered STT providers. Defaults to 30720 (30 kB).
	MinChunkBytes int `yaml:"min_chunk_bytes"`

	// SweepIntervalMs is how often the buffered STT accumulator is swept.
	// Defaults to 2000.
	SweepIntervalMs int `yaml:"sweep_interval_ms"`

	// VADThresholdBytes is the minimum binary frame size treated as voiced
	// audio. Frames below it still reach the recognizer but never trigger
	// barge-in, so line noise does not cut the agent off. 0 treats every
	// frame as voiced.
	VADThresholdBytes int `yaml:"vad_threshold_bytes"`

	// InputQueueSize bounds the inbound audio queue per session.
	InputQueueSize int `yaml:"input_queue_size"`

	// OutputQueueSize bounds the synthesized audio queue per session.
	OutputQueueSize int `yaml:"output_queue_size"`
}

// SessionConfig tunes session lifecycle and history behavior.
type SessionConfig struct {
	// MaxHistory bounds the conversation history in turns. Defaults to 15.
	MaxHistory int `yaml:"max_history"`

	// TimeoutMs is the idle lifetime of a session in milliseconds before the
	// reaper destroys it. Defaults to 1800000 (30 minutes).
	TimeoutMs int `yaml:"timeout_ms"`

	// ReapIntervalMs is the reaper tick period in milliseconds. Defaults
	// to 60000.
	ReapIntervalMs int `yaml:"reap_interval_ms"`

	// KeepInterruptedReplies appends the spoken prefix of a barged-in reply
	// to history when true. Off by default: the user did not hear the full
	// reply, so treating it as said confuses the model.
	KeepInterruptedReplies bool `yaml:"keep_interrupted_replies"`
}
