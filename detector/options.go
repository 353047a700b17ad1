package detector

import (
	"time"

	"github.com/AaronDesignStudio/play-the-chord/logging"
	"github.com/AaronDesignStudio/play-the-chord/observe"
)

// Clock supplies the time used for debouncing and event timestamps
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Detector
type Option func(*Detector)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger replaces the component logger
func WithLogger(l logging.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records detector metrics on m
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithExternalScheduling disables the internal loop. The host calls Step
// once per detection interval while the detector is listening.
func WithExternalScheduling() Option {
	return func(d *Detector) {
		d.external = true
	}
}
