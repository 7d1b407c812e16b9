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

// ValidASRProviderNames lists the provider names Earshot ships constructors
// for. Used by [Validate] to warn about unrecognised provider names.
var ValidASRProviderNames = []string{"whisper", "whisper-native", "deepgram", "openai", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	switch cfg.Capture.Source {
	case "", CaptureSourceMiniaudio:
	case CaptureSourceReader:
		if cfg.Capture.SourcePath == "" {
			errs = append(errs, errors.New("capture.source_path is required when capture.source is \"reader\""))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: miniaudio, reader", cfg.Capture.Source))
	}
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [0, 2]", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameDurationMS < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_duration_ms %d must not be negative", cfg.Capture.FrameDurationMS))
	}
	if cfg.Capture.BufferSeconds < 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_seconds %d must not be negative", cfg.Capture.BufferSeconds))
	}

	// VAD
	if cfg.VAD.StaticFloor < 0 || cfg.VAD.StaticFloor > 1 {
		errs = append(errs, fmt.Errorf("vad.static_floor %.3f is out of range [0, 1]", cfg.VAD.StaticFloor))
	}
	if cfg.VAD.ThresholdCeiling != 0 && cfg.VAD.ThresholdCeiling < cfg.VAD.StaticFloor {
		errs = append(errs, fmt.Errorf("vad.threshold_ceiling %.3f must not be below vad.static_floor %.3f", cfg.VAD.ThresholdCeiling, cfg.VAD.StaticFloor))
	}
	if cfg.VAD.SilenceTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_timeout_ms %d must not be negative", cfg.VAD.SilenceTimeoutMS))
	}
	if cfg.VAD.MinSpeechMS < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms %d must not be negative", cfg.VAD.MinSpeechMS))
	}

	// Wake word
	if cfg.WakeWord.Sensitivity != 0 {
		if cfg.WakeWord.Sensitivity < 0.1 || cfg.WakeWord.Sensitivity > 5.0 {
			errs = append(errs, fmt.Errorf("wake_word.sensitivity %.2f is out of range [0.1, 5.0]", cfg.WakeWord.Sensitivity))
		}
	}
	if cfg.WakeWord.VerifyThreshold < 0 || cfg.WakeWord.VerifyThreshold > 1 {
		errs = append(errs, fmt.Errorf("wake_word.verify_threshold %.2f is out of range [0, 1]", cfg.WakeWord.VerifyThreshold))
	}
	if cfg.WakeWord.Word == "" {
		slog.Warn("wake_word.word is empty; wake word detection will be disabled")
	}

	// Providers
	providerNamesSeen := make(map[string]int, len(cfg.Providers.ASR))
	for i, p := range cfg.Providers.ASR {
		prefix := fmt.Sprintf("providers.asr[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := providerNamesSeen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.asr[%d]", prefix, p.Name, prev))
		}
		providerNamesSeen[p.Name] = i
		validateProviderName(p.Name)
	}
	if cfg.Providers.Preferred != "" {
		if _, ok := providerNamesSeen[cfg.Providers.Preferred]; !ok {
			errs = append(errs, fmt.Errorf("providers.preferred %q does not match any configured provider", cfg.Providers.Preferred))
		}
	}
	if len(cfg.Providers.ASR) == 0 {
		slog.Warn("no ASR providers configured; utterances will be captured but never transcribed")
	}
	if cfg.Providers.ProbeIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("providers.probe_interval_ms %d must not be negative", cfg.Providers.ProbeIntervalMS))
	}

	// Archive
	if cfg.Archive.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("archive.retention_days %d must not be negative", cfg.Archive.RetentionDays))
	}
	if cfg.Archive.PostgresDSN == "" && len(cfg.Providers.ASR) > 0 {
		slog.Warn("archive.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not found in
// [ValidASRProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidASRProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidASRProviderNames,
	)
}
