package detector

import (
	"time"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
)

// Debouncer suppresses repeats of the same pitch class. A class is accepted
// when it differs from the last accepted one or when strictly more than the
// repeat window has passed since that acceptance.
type Debouncer struct {
	window time.Duration

	last    chroma.PitchClass
	lastAt  time.Time
	hasLast bool
}

// NewDebouncer creates a debouncer with the given repeat window
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Accept reports whether pc observed at now should be emitted, and records it if so
func (d *Debouncer) Accept(pc chroma.PitchClass, now time.Time) bool {
	if d.hasLast && pc == d.last && now.Sub(d.lastAt) <= d.window {
		return false
	}
	d.last = pc
	d.lastAt = now
	d.hasLast = true
	return true
}

// Last returns the most recently accepted class and when it was accepted
func (d *Debouncer) Last() (chroma.PitchClass, time.Time, bool) {
	return d.last, d.lastAt, d.hasLast
}

// Reset forgets the last accepted class
func (d *Debouncer) Reset() {
	d.last = 0
	d.lastAt = time.Time{}
	d.hasLast = false
}
