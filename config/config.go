// Package config defines the on-disk configuration of the pitchlisten
// command.
package config

import (
	"github.com/AaronDesignStudio/play-the-chord/detector"
)

// SourceKind selects where audio frames come from.
type SourceKind string

const (
	SourceMicrophone SourceKind = "microphone"
	SourceTone       SourceKind = "tone"
	SourceWAV        SourceKind = "wav"
	SourceFile       SourceKind = "file"
)

// IsValid reports whether k is a known source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceMicrophone, SourceTone, SourceWAV, SourceFile:
		return true
	}
	return false
}

// Config is the root configuration.
type Config struct {
	LogLevel string          `yaml:"log_level"`
	Detector detector.Config `yaml:"detector"`
	Source   SourceConfig    `yaml:"source"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Journal  JournalConfig   `yaml:"journal"`
}

// SourceConfig describes the capture source.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind"`

	// Path is the audio file for the wav and file kinds.
	Path string `yaml:"path"`

	// Tone is the note played by the tone source, e.g. "E4".
	Tone        string  `yaml:"tone"`
	ToneSeconds float64 `yaml:"tone_seconds"`

	SampleRate      int `yaml:"sample_rate"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// DCBlockHz high-passes microphone input; 0 disables it.
	DCBlockHz float64 `yaml:"dc_block_hz"`

	// FFmpegPath overrides the ffmpeg binary used by the file kind.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// MetricsConfig controls the Prometheus endpoint. An empty ListenAddr
// disables it.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// JournalConfig controls the SQLite note journal. An empty Path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Detector: detector.DefaultConfig(),
		Source: SourceConfig{
			Kind:            SourceMicrophone,
			Tone:            "A4",
			ToneSeconds:     3,
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			DCBlockHz:       10,
		},
	}
}
