// Package detector turns a stream of audio frames into debounced note events.
//
// Each step reads the latest frame from a capture.Source, drops it if it is
// too quiet, runs the YIN estimator, discards low-confidence or out-of-range
// estimates, maps the frequency to a pitch class and emits a NoteEvent unless
// the same class was emitted within the repeat window.
package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
	"github.com/AaronDesignStudio/play-the-chord/algorithms/temporal"
	"github.com/AaronDesignStudio/play-the-chord/algorithms/tonal"
	"github.com/AaronDesignStudio/play-the-chord/capture"
	"github.com/AaronDesignStudio/play-the-chord/logging"
	"github.com/AaronDesignStudio/play-the-chord/observe"
)

// NoteEvent is emitted once per accepted note
type NoteEvent struct {
	PitchClass  chroma.PitchClass `json:"pitch_class"`
	TimestampMs int64             `json:"timestamp_ms"`
	Frequency   float64           `json:"frequency"`
	Confidence  float64           `json:"confidence"`
}

// StepResult is the outcome of one detection step
type StepResult int

const (
	StepIdle StepResult = iota
	StepNoFrame
	StepExhausted
	StepSourceError
	StepGated
	StepDegenerate
	StepNoPitch
	StepLowConfidence
	StepOutOfRange
	StepDebounced
	StepEmitted
)

var stepResultNames = [...]string{
	StepIdle:          "idle",
	StepNoFrame:       "no_frame",
	StepExhausted:     "exhausted",
	StepSourceError:   "source_error",
	StepGated:         "gated",
	StepDegenerate:    "degenerate",
	StepNoPitch:       "no_pitch",
	StepLowConfidence: "low_confidence",
	StepOutOfRange:    "out_of_range",
	StepDebounced:     "debounced",
	StepEmitted:       "emitted",
}

func (r StepResult) String() string {
	if r < 0 || int(r) >= len(stepResultNames) {
		return fmt.Sprintf("StepResult(%d)", int(r))
	}
	return stepResultNames[r]
}

// Detector is the detection loop. It is Idle after New and Listening between
// StartListening and StopListening (or until the source is exhausted).
type Detector struct {
	cfg    Config
	source capture.Source

	gate      *temporal.EnergyGate
	estimator *tonal.YinEstimator
	mapper    *chroma.NoteMapper

	clock    Clock
	logger   logging.Logger
	metrics  *observe.Metrics
	external bool

	// stepMu serialises steps; it guards frame, estimator and debouncer
	stepMu    sync.Mutex
	frame     []float64
	debouncer *Debouncer

	// mu guards the lifecycle fields below
	mu            sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
	sourceStarted bool

	listening    atomic.Bool
	resetPending atomic.Bool

	listenerMu sync.RWMutex
	listener   func(NoteEvent)

	events  chan NoteEvent
	dropped atomic.Uint64
}

// New validates cfg and builds an idle detector reading from src
func New(cfg Config, src capture.Source, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if src == nil {
		return nil, errors.New("detector: nil capture source")
	}

	d := &Detector{
		cfg:       cfg,
		source:    src,
		gate:      temporal.NewEnergyGate(cfg.MinVolume),
		estimator: tonal.NewYinEstimator(cfg.YinParams()),
		mapper:    chroma.NewNoteMapper(),
		clock:     systemClock{},
		logger: logging.WithFields(logging.Fields{
			"component": "pitch_detector",
		}),
		frame:     make([]float64, cfg.BufferSize),
		debouncer: NewDebouncer(cfg.RepeatWindow()),
	}
	if cfg.EventBuffer > 0 {
		d.events = make(chan NoteEvent, cfg.EventBuffer)
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.metrics == nil {
		m, err := observe.NewMetrics(noop.NewMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("detector: create metrics: %w", err)
		}
		d.metrics = m
	}

	return d, nil
}

// Config returns the detector configuration
func (d *Detector) Config() Config {
	return d.cfg
}

// IsListening reports whether the detector is in the Listening state
func (d *Detector) IsListening() bool {
	return d.listening.Load()
}

// OnNoteDetected registers the listener invoked for every emitted event,
// replacing any previous one. A nil fn removes it. The listener runs on the
// detection goroutine and may call StopListening.
func (d *Detector) OnNoteDetected(fn func(NoteEvent)) {
	d.listenerMu.Lock()
	d.listener = fn
	d.listenerMu.Unlock()
}

// Events returns the buffered event channel, or nil when EventBuffer is 0.
// Events are dropped, never queued without bound, when the consumer lags.
// The channel is not closed; use Done to learn when listening ended.
func (d *Detector) Events() <-chan NoteEvent {
	return d.events
}

// Dropped returns the number of events the Events channel could not take
func (d *Detector) Dropped() uint64 {
	return d.dropped.Load()
}

// Done returns a channel closed once the current listening session has
// ended and the source has been released. Before the first start it is
// already closed.
func (d *Detector) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.done
}

// StartListening opens the capture source and, unless external scheduling
// was requested, starts the loop that steps once per detection interval. The
// loop also ends when ctx is cancelled. Starting while listening is a no-op.
// On failure the detector stays idle and the error wraps ErrCaptureUnavailable.
// Must not be called from the note listener.
func (d *Detector) StartListening(ctx context.Context) error {
	if d.listening.Load() {
		return nil
	}

	// A previous session may still be releasing its source.
	select {
	case <-d.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.listening.Load() {
		return nil
	}

	if err := d.source.Start(ctx); err != nil {
		d.logger.Error(err, "Failed to start capture source")
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	d.sourceStarted = true

	d.resetPending.Store(true)
	d.done = make(chan struct{})
	d.listening.Store(true)
	d.metrics.SetListening(ctx, true)

	d.logger.Info("Started listening", logging.Fields{
		"sample_rate":           d.source.SampleRate(),
		"buffer_size":           d.cfg.BufferSize,
		"detection_interval_ms": d.cfg.DetectionIntervalMs,
		"external_scheduling":   d.external,
	})

	if d.external {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.run(loopCtx, d.done)
	return nil
}

// StopListening moves the detector to Idle. It is idempotent and does not
// wait: the loop observes the change before its next step, then releases the
// source and closes Done. With external scheduling the source is released
// immediately.
func (d *Detector) StopListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked("stopped")
}

// stopLocked requires d.mu
func (d *Detector) stopLocked(reason string) {
	if !d.listening.CompareAndSwap(true, false) {
		return
	}
	d.metrics.SetListening(context.Background(), false)
	d.logger.Info("Stopped listening", logging.Fields{"reason": reason})

	if d.external {
		d.releaseLocked()
		close(d.done)
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// releaseLocked stops the source if it is running; requires d.mu
func (d *Detector) releaseLocked() {
	if !d.sourceStarted {
		return
	}
	d.sourceStarted = false
	if err := d.source.Stop(); err != nil {
		d.logger.Warn("Failed to stop capture source", logging.Fields{"error": err.Error()})
	}
}

func (d *Detector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		d.mu.Lock()
		d.stopLocked("loop exited")
		d.releaseLocked()
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(d.cfg.DetectionInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		switch d.Step(ctx) {
		case StepIdle, StepExhausted:
			return
		}
	}
}

// Step performs one detection step. It never blocks on the listener beyond
// the listener's own run time and is safe to call concurrently with the
// lifecycle methods; concurrent steps are serialised.
func (d *Detector) Step(ctx context.Context) StepResult {
	d.stepMu.Lock()
	defer d.stepMu.Unlock()

	result := d.step(ctx)
	d.metrics.RecordStep(ctx, result.String())
	return result
}

func (d *Detector) step(ctx context.Context) StepResult {
	if !d.listening.Load() {
		return StepIdle
	}
	if d.resetPending.Swap(false) {
		d.debouncer.Reset()
	}

	if err := d.source.ReadFrame(d.frame); err != nil {
		switch {
		case errors.Is(err, capture.ErrFrameNotReady):
			return StepNoFrame
		case errors.Is(err, io.EOF):
			d.mu.Lock()
			d.stopLocked("source exhausted")
			d.mu.Unlock()
			return StepExhausted
		default:
			d.logger.Warn("Failed to read frame", logging.Fields{"error": err.Error()})
			return StepSourceError
		}
	}

	if !d.gate.Passes(d.frame) {
		return StepGated
	}

	start := time.Now()
	estimate, err := d.estimator.Estimate(d.frame, d.source.SampleRate())
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, tonal.ErrDegenerateFrame) {
			d.logger.Debug("Skipping degenerate frame", logging.Fields{"error": err.Error()})
			return StepDegenerate
		}
		d.logger.Error(err, "Pitch estimation failed")
		return StepSourceError
	}
	d.metrics.RecordEstimate(ctx, elapsed, estimate.Confidence, estimate.Voiced())

	if !estimate.Voiced() {
		return StepNoPitch
	}
	if estimate.Confidence < d.cfg.ProbabilityThreshold {
		return StepLowConfidence
	}

	pitchClass, ok := d.mapper.ToPitchClass(estimate.Frequency)
	if !ok {
		return StepOutOfRange
	}

	now := d.clock.Now()
	if !d.debouncer.Accept(pitchClass, now) {
		return StepDebounced
	}

	d.emit(ctx, NoteEvent{
		PitchClass:  pitchClass,
		TimestampMs: now.UnixMilli(),
		Frequency:   estimate.Frequency,
		Confidence:  estimate.Confidence,
	})
	return StepEmitted
}

func (d *Detector) emit(ctx context.Context, event NoteEvent) {
	d.metrics.RecordNote(ctx, event.PitchClass.String())
	d.logger.Debug("Note detected", logging.Fields{
		"pitch_class": event.PitchClass.String(),
		"frequency":   event.Frequency,
		"confidence":  event.Confidence,
	})

	d.listenerMu.RLock()
	listener := d.listener
	d.listenerMu.RUnlock()
	if listener != nil {
		listener(event)
	}

	if d.events == nil {
		return
	}
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
		d.metrics.RecordDropped(ctx)
	}
}
