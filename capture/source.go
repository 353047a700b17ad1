// Package capture provides the audio sources a detector reads frames from:
// in-memory buffers, synthetic tones, WAV files, ffmpeg-decoded files and
// (in capture/microphone) a live input device.
package capture

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFrameNotReady means the source has not yet accumulated a full frame
	// of fresh samples. The caller should try again on its next tick.
	ErrFrameNotReady = errors.New("capture: frame not ready")

	// ErrNotStarted is returned by ReadFrame before Start or after Stop
	ErrNotStarted = errors.New("capture: source not started")
)

// Source supplies fixed-length mono frames of float64 samples in [-1, 1].
//
// ReadFrame fills dst with the most recent len(dst) samples. It returns
// ErrFrameNotReady when no full fresh frame is available and io.EOF once a
// finite source is exhausted. Stop is idempotent.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	SampleRate() int
	ReadFrame(dst []float64) error
}

// HopSize converts a detection interval into the number of samples a
// real-time stream advances between two reads, never less than one.
func HopSize(sampleRate int, interval time.Duration) int {
	hop := int(float64(sampleRate)*interval.Seconds() + 0.5)
	if hop < 1 {
		return 1
	}
	return hop
}
