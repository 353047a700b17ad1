// Package microphone captures live mono input through PortAudio.
//
// The PortAudio callback runs on the audio thread. It copies each buffer into
// a recycled chunk and hands it over a bounded channel without blocking; when
// the consumer lags the chunk is dropped and counted. ReadFrame, on the
// detection loop, drains the channel into a ring buffer holding the most
// recent frame-length window.
package microphone

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/common"
	"github.com/AaronDesignStudio/play-the-chord/algorithms/filters"
	"github.com/AaronDesignStudio/play-the-chord/capture"
	"github.com/AaronDesignStudio/play-the-chord/logging"
)

// Config holds device parameters
type Config struct {
	SampleRate      int `json:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer int `json:"frames_per_buffer" yaml:"frames_per_buffer"`
	WindowSize      int `json:"window_size" yaml:"window_size"` // samples kept for ReadFrame, normally the detector buffer size
	QueueDepth      int `json:"queue_depth" yaml:"queue_depth"` // callback buffers in flight

	// DCBlockHz is the cutoff of the high-pass applied before buffering.
	// Zero leaves the input untouched.
	DCBlockHz float64 `json:"dc_block_hz" yaml:"dc_block_hz"`
}

// DefaultConfig returns 44.1 kHz mono with 1024-sample callbacks
func DefaultConfig() Config {
	return Config{
		SampleRate:      44100,
		FramesPerBuffer: 1024,
		WindowSize:      4096,
		QueueDepth:      32,
	}
}

// Source is a capture.Source backed by the default input device
type Source struct {
	cfg    Config
	logger logging.Logger

	mu     sync.Mutex
	stream *portaudio.Stream

	chunks chan []float32
	free   chan []float32

	// consumer side, touched only from ReadFrame
	window *common.CircularBuffer
	fresh  int
	dc     *filters.DCBlocker

	running atomic.Bool
	dropped atomic.Uint64
}

var _ capture.Source = (*Source)(nil)

// New creates a microphone source. Zero config fields take defaults.
func New(cfg Config) *Source {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = def.FramesPerBuffer
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}

	s := &Source{
		cfg: cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "microphone",
		}),
		chunks: make(chan []float32, cfg.QueueDepth),
		free:   make(chan []float32, cfg.QueueDepth),
		window: common.NewCircularBuffer(cfg.WindowSize),
	}
	if cfg.DCBlockHz > 0 {
		s.dc = filters.NewDCBlocker(cfg.SampleRate, cfg.DCBlockHz)
	}
	return s
}

// Start initialises PortAudio and opens the default input stream
func (s *Source) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("microphone: initialize portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(s.cfg.SampleRate), s.cfg.FramesPerBuffer, s.process)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("microphone: open input stream: %w", err)
	}

	s.resetConsumer()
	s.running.Store(true)

	if err := stream.Start(); err != nil {
		s.running.Store(false)
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("microphone: start input stream: %w", err)
	}

	s.stream = stream
	s.logger.Info("Microphone capture started", logging.Fields{
		"sample_rate":       s.cfg.SampleRate,
		"frames_per_buffer": s.cfg.FramesPerBuffer,
	})
	return nil
}

// Stop closes the stream and releases PortAudio; safe to call repeatedly
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	s.running.Store(false)

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("microphone: stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("microphone: close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("microphone: terminate portaudio: %w", err))
	}
	s.stream = nil

	s.logger.Info("Microphone capture stopped", logging.Fields{
		"dropped_chunks": s.dropped.Load(),
	})
	return errors.Join(errs...)
}

// SampleRate returns the configured device rate
func (s *Source) SampleRate() int {
	return s.cfg.SampleRate
}

// Dropped returns how many callback buffers were discarded because the
// consumer fell behind
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// ReadFrame copies the latest len(dst) samples into dst. It reports
// capture.ErrFrameNotReady until the window has filled and whenever no new
// audio arrived since the previous frame.
func (s *Source) ReadFrame(dst []float64) error {
	if !s.running.Load() {
		return capture.ErrNotStarted
	}
	if len(dst) > s.window.Size() {
		return fmt.Errorf("microphone: frame of %d samples exceeds window of %d", len(dst), s.window.Size())
	}

	s.drain()

	if s.fresh == 0 || s.window.Available() < len(dst) {
		return capture.ErrFrameNotReady
	}

	// The window holds exactly Size() samples once full; skip the oldest
	// when the caller wants fewer.
	if len(dst) == s.window.Size() {
		s.window.Peek(dst)
	} else {
		tmp := make([]float64, s.window.Available())
		s.window.Peek(tmp)
		copy(dst, tmp[len(tmp)-len(dst):])
	}
	s.fresh = 0
	return nil
}

// process is the PortAudio callback
func (s *Source) process(in []float32) {
	if !s.running.Load() {
		return
	}

	var chunk []float32
	select {
	case chunk = <-s.free:
	default:
	}
	if cap(chunk) < len(in) {
		chunk = make([]float32, len(in))
	}
	chunk = chunk[:len(in)]
	copy(chunk, in)

	select {
	case s.chunks <- chunk:
	default:
		s.dropped.Add(1)
		s.recycle(chunk)
	}
}

func (s *Source) drain() {
	for {
		select {
		case chunk := <-s.chunks:
			if s.dc != nil {
				s.dc.ProcessFloat32(chunk)
			}
			s.window.WriteFloat32(chunk)
			s.fresh += len(chunk)
			s.recycle(chunk)
		default:
			return
		}
	}
}

func (s *Source) recycle(chunk []float32) {
	select {
	case s.free <- chunk:
	default:
	}
}

func (s *Source) resetConsumer() {
	for {
		select {
		case <-s.chunks:
		default:
			s.window.Clear()
			s.fresh = 0
			if s.dc != nil {
				s.dc.Reset()
			}
			return
		}
	}
}
