package microphone

import (
	"errors"
	"testing"

	"github.com/AaronDesignStudio/play-the-chord/capture"
)

// newRunning builds a source whose consumer path works without a device; the
// tests drive the PortAudio callback by hand.
func newRunning(cfg Config) *Source {
	s := New(cfg)
	s.running.Store(true)
	return s
}

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{})
	if s.SampleRate() != 44100 {
		t.Errorf("sample rate = %d", s.SampleRate())
	}
	if s.window.Size() != 4096 {
		t.Errorf("window = %d", s.window.Size())
	}
	if cap(s.chunks) != 32 {
		t.Errorf("queue depth = %d", cap(s.chunks))
	}
}

func TestReadFrame_NotStarted(t *testing.T) {
	s := New(Config{WindowSize: 8})
	if err := s.ReadFrame(make([]float64, 8)); !errors.Is(err, capture.ErrNotStarted) {
		t.Errorf("err = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestReadFrame_LatestWindow(t *testing.T) {
	s := newRunning(Config{WindowSize: 8, QueueDepth: 8})
	frame := make([]float64, 8)

	s.process(ramp(0, 4))
	if err := s.ReadFrame(frame); !errors.Is(err, capture.ErrFrameNotReady) {
		t.Fatalf("half-filled window: err = %v", err)
	}

	s.process(ramp(4, 4))
	s.process(ramp(8, 4))
	if err := s.ReadFrame(frame); err != nil {
		t.Fatal(err)
	}
	for i, v := range frame {
		if v != float64(4+i) {
			t.Fatalf("frame = %v, want 4..11", frame)
		}
	}

	if err := s.ReadFrame(frame); !errors.Is(err, capture.ErrFrameNotReady) {
		t.Errorf("no new audio: err = %v", err)
	}

	s.process(ramp(12, 2))
	short := make([]float64, 4)
	if err := s.ReadFrame(short); err != nil {
		t.Fatal(err)
	}
	want := []float64{10, 11, 12, 13}
	for i := range want {
		if short[i] != want[i] {
			t.Fatalf("short frame = %v, want %v", short, want)
		}
	}

	if err := s.ReadFrame(make([]float64, 16)); err == nil {
		t.Error("frame larger than window accepted")
	}
}

func TestProcess_DropsWhenQueueFull(t *testing.T) {
	s := newRunning(Config{WindowSize: 4, QueueDepth: 2})

	for i := range 5 {
		s.process(ramp(i*4, 4))
	}
	if got := s.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	frame := make([]float64, 4)
	if err := s.ReadFrame(frame); err != nil {
		t.Fatal(err)
	}
	// Only the first two chunks made it through.
	for i, v := range frame {
		if v != float64(4+i) {
			t.Fatalf("frame = %v, want 4..7", frame)
		}
	}
}

func TestProcess_IgnoredWhenStopped(t *testing.T) {
	s := New(Config{WindowSize: 4, QueueDepth: 2})
	s.process(ramp(0, 4))
	if len(s.chunks) != 0 {
		t.Error("callback queued audio while not running")
	}
}

func TestProcess_CopiesInput(t *testing.T) {
	s := newRunning(Config{WindowSize: 4, QueueDepth: 2})
	in := ramp(0, 4)
	s.process(in)
	in[0] = 99

	frame := make([]float64, 4)
	if err := s.ReadFrame(frame); err != nil {
		t.Fatal(err)
	}
	if frame[0] != 0 {
		t.Errorf("callback buffer aliased: frame[0] = %v", frame[0])
	}
}

func TestReadFrame_DCBlockRemovesOffset(t *testing.T) {
	const n = 4096
	s := newRunning(Config{WindowSize: n, QueueDepth: 64, DCBlockHz: 20})

	offset := make([]float32, 1024)
	for i := range offset {
		offset[i] = 0.25
	}
	// Warm the filter with a few windows of constant input.
	frame := make([]float64, n)
	for range 8 {
		for range n / len(offset) {
			s.process(offset)
		}
		if err := s.ReadFrame(frame); err != nil {
			t.Fatal(err)
		}
	}

	for _, v := range frame[n-256:] {
		if v > 1e-3 || v < -1e-3 {
			t.Fatalf("offset survived the DC blocker: %v", v)
		}
	}
}
