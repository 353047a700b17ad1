// Package filters holds streaming filters applied to capture input.
package filters

import "math"

// DCBlocker is the one-pole high-pass y[n] = x[n] - x[n-1] + R*y[n-1]. It
// removes a constant offset from a stream; state carries across calls.
//
// See J. O. Smith, "Introduction to Digital Filters", DC Blocker.
type DCBlocker struct {
	pole   float64
	x1, y1 float64
}

// NewDCBlocker returns a blocker with a -3 dB point near cutoffHz. The pole
// uses the small-angle approximation R = 1 - 2*pi*fc/fs.
func NewDCBlocker(sampleRate int, cutoffHz float64) *DCBlocker {
	pole := 0.995
	if sampleRate > 0 && cutoffHz > 0 {
		pole = 1 - 2*math.Pi*cutoffHz/float64(sampleRate)
	}
	return &DCBlocker{pole: min(max(pole, 0.001), 0.999)}
}

// Pole returns R
func (f *DCBlocker) Pole() float64 {
	return f.pole
}

// Cutoff returns the approximate -3 dB frequency at sampleRate
func (f *DCBlocker) Cutoff(sampleRate int) float64 {
	return (1 - f.pole) * float64(sampleRate) / (2 * math.Pi)
}

// Process filters one sample
func (f *DCBlocker) Process(x float64) float64 {
	y := x - f.x1 + f.pole*f.y1
	f.x1, f.y1 = x, y
	return y
}

// ProcessFloat32 filters buf in place
func (f *DCBlocker) ProcessFloat32(buf []float32) {
	for i, v := range buf {
		buf[i] = float32(f.Process(float64(v)))
	}
}

// Reset clears the filter state, e.g. after a gap in the stream
func (f *DCBlocker) Reset() {
	f.x1, f.y1 = 0, 0
}
