// Package config provides the configuration schema and loader for the
// live translator server.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then environment variables. The environment layer covers the deployment
// surface (credential, models, target language) so the server runs with no
// config file at all.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	VAD       VADConfig       `yaml:"vad"`
	ASR       ASRConfig       `yaml:"asr"`
	Translate TranslateConfig `yaml:"translate"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info",
	// "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// VADConfig holds the voice-activity model and segmentation parameters.
type VADConfig struct {
	// ModelPath is the Silero VAD ONNX model file.
	ModelPath string `yaml:"model_path"`

	// ORTLibraryPath optionally points at the ONNX Runtime shared
	// library. Empty uses the runtime's default resolution.
	ORTLibraryPath string `yaml:"ort_library_path"`

	// Threshold is the speech probability threshold in [0, 1].
	Threshold float32 `yaml:"threshold"`

	// MinSilenceMs is the trailing silence that closes an utterance.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MinSpeechMs is the minimum utterance length hint. Recognised but
	// not enforced at commit time.
	MinSpeechMs int `yaml:"min_speech_ms"`
}

// ASRConfig holds the transcription model settings.
type ASRConfig struct {
	// ModelPath is the whisper.cpp model file (e.g., ggml-base.en.bin).
	ModelPath string `yaml:"model_path"`

	// Language is the default recognition language hint. "auto" lets
	// the model detect it.
	Language string `yaml:"language"`
}

// TranslateConfig holds the LLM service settings.
type TranslateConfig struct {
	// APIKey is the LLM service credential. Empty disables translation
	// and makes correction the identity.
	APIKey string `yaml:"api_key"`

	// Model is the chat-completions model name.
	Model string `yaml:"model"`

	// RealtimeModel is the realtime channel model name.
	RealtimeModel string `yaml:"realtime_model"`

	// TargetLanguage is the default translation target.
	TargetLanguage string `yaml:"target_language"`

	// UseRealtime enables the realtime transport.
	UseRealtime bool `yaml:"use_realtime"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8000",
			LogLevel:   "info",
		},
		VAD: VADConfig{
			ModelPath:    "models/silero_vad.onnx",
			Threshold:    0.5,
			MinSilenceMs: 500,
			MinSpeechMs:  250,
		},
		ASR: ASRConfig{
			ModelPath: "models/ggml-base.en.bin",
			Language:  "auto",
		},
		Translate: TranslateConfig{
			Model:          "gpt-4o-mini",
			RealtimeModel:  "gpt-realtime",
			TargetLanguage: "zh-TW",
			UseRealtime:    true,
		},
	}
}

// ApplyEnv overlays the deployment environment variables onto cfg:
//
//	OPENAI_API_KEY    — credential; absent leaves translation disabled
//	TARGET_LANGUAGE   — default translation target
//	TRANSLATION_MODEL — chat-completions model name
//	REALTIME_MODEL    — realtime model name
//	USE_REALTIME      — "1"|"true"|"yes" (case-insensitive) enables the
//	                    realtime path; anything else disables it
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		cfg.Translate.APIKey = v
	}
	if v, ok := os.LookupEnv("TARGET_LANGUAGE"); ok {
		cfg.Translate.TargetLanguage = v
	}
	if v, ok := os.LookupEnv("TRANSLATION_MODEL"); ok {
		cfg.Translate.Model = v
	}
	if v, ok := os.LookupEnv("REALTIME_MODEL"); ok {
		cfg.Translate.RealtimeModel = v
	}
	if v, ok := os.LookupEnv("USE_REALTIME"); ok {
		cfg.Translate.UseRealtime = parseEnabled(v)
	}

	if cfg.Translate.APIKey == "" {
		slog.Info("OPENAI_API_KEY not set; translation disabled")
	}
}

// parseEnabled interprets the truthy value set used by USE_REALTIME.
func parseEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
