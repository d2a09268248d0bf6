package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the accepted server.log_level values.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads the YAML configuration file at path over the built-in
// defaults and returns a validated [Config]. The caller decides whether a
// missing file (os.ErrNotExist) is fatal; running on defaults plus
// environment is a supported mode.
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

// LoadFromReader decodes a YAML config from r over the defaults and
// validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !validLogLevels[cfg.Server.LogLevel] {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSilenceMs <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d must be positive", cfg.VAD.MinSilenceMs))
	}
	if cfg.VAD.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms %d must not be negative", cfg.VAD.MinSpeechMs))
	}
	if cfg.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required"))
	}

	if cfg.ASR.ModelPath == "" {
		errs = append(errs, errors.New("asr.model_path is required"))
	}

	if cfg.Translate.Model == "" {
		errs = append(errs, errors.New("translate.model is required"))
	}
	if cfg.Translate.UseRealtime && cfg.Translate.RealtimeModel == "" {
		errs = append(errs, errors.New("translate.realtime_model is required when use_realtime is on"))
	}

	return errors.Join(errs...)
}
