package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
	"github.com/AaronDesignStudio/play-the-chord/logging"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Fields absent from the file keep their [Default] values.
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

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. An empty document yields the defaults.
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error, fatal", cfg.LogLevel))
	}

	if err := cfg.Detector.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}

	src := cfg.Source
	if !src.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: microphone, tone, wav, file", src.Kind))
	}
	switch src.Kind {
	case SourceWAV, SourceFile:
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("source.path is required for source kind %q", src.Kind))
		}
	case SourceTone:
		if _, err := chroma.ParseNote(src.Tone); err != nil {
			errs = append(errs, fmt.Errorf("source.tone: %w", err))
		}
		if src.ToneSeconds <= 0 {
			errs = append(errs, fmt.Errorf("source.tone_seconds must be positive, got %g", src.ToneSeconds))
		}
	}
	if src.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("source.sample_rate must be positive, got %d", src.SampleRate))
	}
	if src.DCBlockHz < 0 {
		errs = append(errs, fmt.Errorf("source.dc_block_hz must not be negative, got %g", src.DCBlockHz))
	}
	if src.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("source.frames_per_buffer must be positive, got %d", src.FramesPerBuffer))
	}

	return errors.Join(errs...)
}
