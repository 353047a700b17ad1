package detector

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/tonal"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.DetectionInterval() != 50*time.Millisecond {
		t.Errorf("interval = %v", cfg.DetectionInterval())
	}
	if cfg.RepeatWindow() != 300*time.Millisecond {
		t.Errorf("repeat window = %v", cfg.RepeatWindow())
	}
	if p := cfg.YinParams(); p.Threshold != 0.15 || p.Method != tonal.DifferenceDirect {
		t.Errorf("yin params = %+v", p)
	}
}

func TestConfigValidate_ReportsEveryField(t *testing.T) {
	cfg := Config{
		BufferSize:           4,
		Threshold:            1,
		ProbabilityThreshold: 1.5,
		MinVolume:            -1,
		DetectionIntervalMs:  0,
		RepeatWindowMs:       -1,
		DifferenceMethod:     "spline",
		EventBuffer:          -1,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, field := range []string{
		"buffer_size", "threshold", "probability_threshold", "min_volume",
		"detection_interval_ms", "repeat_window_ms", "difference_method", "event_buffer",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s: %v", field, err)
		}
	}
}

func TestConfigValidate_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"minimum buffer", func(c *Config) { c.BufferSize = 8 }, true},
		{"probability zero", func(c *Config) { c.ProbabilityThreshold = 0 }, true},
		{"probability one", func(c *Config) { c.ProbabilityThreshold = 1 }, true},
		{"zero min volume", func(c *Config) { c.MinVolume = 0 }, true},
		{"zero repeat window", func(c *Config) { c.RepeatWindowMs = 0 }, true},
		{"events disabled", func(c *Config) { c.EventBuffer = 0 }, true},
		{"fft method", func(c *Config) { c.DifferenceMethod = tonal.DifferenceFFT }, true},
		{"zero threshold", func(c *Config) { c.Threshold = 0 }, false},
		{"empty method", func(c *Config) { c.DifferenceMethod = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err == nil) != tt.valid {
				t.Errorf("Validate() = %v, valid = %v", err, tt.valid)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 0
	_, err := New(cfg, &fakeSource{sampleRate: 44100})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}

	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Error("nil source accepted")
	}
}
