package detector

import (
	"errors"
	"fmt"
	"time"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/temporal"
	"github.com/AaronDesignStudio/play-the-chord/algorithms/tonal"
)

// Config holds the tunables of a Detector
type Config struct {
	// BufferSize is the analysis frame length in samples.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// Threshold is the YIN absolute threshold on the normalised difference.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// ProbabilityThreshold is the minimum estimate confidence that may emit a note.
	ProbabilityThreshold float64 `json:"probability_threshold" yaml:"probability_threshold"`

	// MinVolume is the RMS floor of the energy gate.
	MinVolume float64 `json:"min_volume" yaml:"min_volume"`

	DetectionIntervalMs int `json:"detection_interval_ms" yaml:"detection_interval_ms"`
	RepeatWindowMs      int `json:"repeat_window_ms" yaml:"repeat_window_ms"`

	DifferenceMethod tonal.DifferenceMethod `json:"difference_method" yaml:"difference_method"`

	// EventBuffer sizes the Events channel; 0 disables it.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`
}

// DefaultConfig returns the defaults used for live instrument input
func DefaultConfig() Config {
	return Config{
		BufferSize:           4096,
		Threshold:            tonal.DefaultYinThreshold,
		ProbabilityThreshold: 0.8,
		MinVolume:            temporal.DefaultMinVolume,
		DetectionIntervalMs:  50,
		RepeatWindowMs:       300,
		DifferenceMethod:     tonal.DifferenceDirect,
		EventBuffer:          16,
	}
}

// Validate reports every invalid field at once
func (c Config) Validate() error {
	var errs []error

	if c.BufferSize < 8 {
		errs = append(errs, fmt.Errorf("buffer_size must be at least 8, got %d", c.BufferSize))
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold must be in (0, 1), got %g", c.Threshold))
	}
	if c.ProbabilityThreshold < 0 || c.ProbabilityThreshold > 1 {
		errs = append(errs, fmt.Errorf("probability_threshold must be in [0, 1], got %g", c.ProbabilityThreshold))
	}
	if c.MinVolume < 0 {
		errs = append(errs, fmt.Errorf("min_volume must not be negative, got %g", c.MinVolume))
	}
	if c.DetectionIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("detection_interval_ms must be positive, got %d", c.DetectionIntervalMs))
	}
	if c.RepeatWindowMs < 0 {
		errs = append(errs, fmt.Errorf("repeat_window_ms must not be negative, got %d", c.RepeatWindowMs))
	}
	if !c.DifferenceMethod.IsValid() {
		errs = append(errs, fmt.Errorf("difference_method must be %q or %q, got %q",
			tonal.DifferenceDirect, tonal.DifferenceFFT, c.DifferenceMethod))
	}
	if c.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("event_buffer must not be negative, got %d", c.EventBuffer))
	}

	return errors.Join(errs...)
}

// DetectionInterval is the pause between two scheduled steps
func (c Config) DetectionInterval() time.Duration {
	return time.Duration(c.DetectionIntervalMs) * time.Millisecond
}

// RepeatWindow is how long the same pitch class is suppressed after an emit
func (c Config) RepeatWindow() time.Duration {
	return time.Duration(c.RepeatWindowMs) * time.Millisecond
}

// YinParams derives the estimator configuration
func (c Config) YinParams() tonal.YinParams {
	return tonal.YinParams{
		Threshold: c.Threshold,
		Method:    c.DifferenceMethod,
	}
}
