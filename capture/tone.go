package capture

import (
	"math"
	"time"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
)

// Segment is one piece of a synthetic signal. A zero Frequency or Amplitude
// produces silence.
type Segment struct {
	Frequency float64
	Amplitude float64
	Duration  time.Duration

	// Harmonics are relative amplitudes of partials 2, 3, ... added on top
	// of the fundamental.
	Harmonics []float64
}

// Tone is a pure sine segment
func Tone(freq, amplitude float64, d time.Duration) Segment {
	return Segment{Frequency: freq, Amplitude: amplitude, Duration: d}
}

// NoteTone is a pure sine at the equal-tempered frequency of note
func NoteTone(note chroma.Note, amplitude float64, d time.Duration) Segment {
	return Tone(note.Frequency(), amplitude, d)
}

// Silence is a zero segment
func Silence(d time.Duration) Segment {
	return Segment{Duration: d}
}

// Synthesize renders segments back to back at sampleRate. Each segment starts
// at phase zero.
func Synthesize(sampleRate int, segments ...Segment) []float64 {
	if sampleRate <= 0 {
		return nil
	}

	total := 0
	for _, seg := range segments {
		total += segmentLength(sampleRate, seg.Duration)
	}

	out := make([]float64, 0, total)
	for _, seg := range segments {
		n := segmentLength(sampleRate, seg.Duration)
		if seg.Frequency <= 0 || seg.Amplitude == 0 {
			out = append(out, make([]float64, n)...)
			continue
		}

		step := 2 * math.Pi * seg.Frequency / float64(sampleRate)
		for i := 0; i < n; i++ {
			phase := step * float64(i)
			v := math.Sin(phase)
			for h, rel := range seg.Harmonics {
				v += rel * math.Sin(float64(h+2)*phase)
			}
			out = append(out, seg.Amplitude*v)
		}
	}
	return out
}

// NewToneSource synthesises segments and plays them back like a live stream
// advancing one detection interval per read
func NewToneSource(sampleRate int, interval time.Duration, segments ...Segment) *BufferSource {
	return NewBufferSource(Synthesize(sampleRate, segments...), sampleRate, interval)
}

func segmentLength(sampleRate int, d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(sampleRate)))
}
