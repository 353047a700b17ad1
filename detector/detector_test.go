package detector

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AaronDesignStudio/play-the-chord/algorithms/chroma"
	"github.com/AaronDesignStudio/play-the-chord/capture"
	"github.com/AaronDesignStudio/play-the-chord/logging"
	"github.com/AaronDesignStudio/play-the-chord/observe"
)

const testRate = 44100

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource returns the same frame on every read
type fakeSource struct {
	mu         sync.Mutex
	sampleRate int
	frame      []float64
	startErr   error
	readErr    error
	starts     int
	stops      int
}

func (f *fakeSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) SampleRate() int { return f.sampleRate }

func (f *fakeSource) ReadFrame(dst []float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	copy(dst, f.frame)
	return nil
}

func (f *fakeSource) setFrame(frame []float64) {
	f.mu.Lock()
	f.frame = frame
	f.mu.Unlock()
}

func (f *fakeSource) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func toneFrame(freq float64) []float64 {
	return capture.Synthesize(testRate, capture.Tone(freq, 0.5, 100*time.Millisecond))[:4096]
}

func quietLogger() Option {
	return WithLogger(&logging.NoOpLogger{})
}

func newExternal(t *testing.T, cfg Config, src capture.Source, opts ...Option) (*Detector, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithExternalScheduling(), WithClock(clock), quietLogger()}, opts...)
	d, err := New(cfg, src, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, clock
}

func waitDone(t *testing.T, d *Detector) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("detector did not finish")
	}
}

func TestEndToEnd_SustainedE4(t *testing.T) {
	interval := DefaultConfig().DetectionInterval()
	src := capture.NewToneSource(testRate, interval, capture.Tone(329.63, 0.5, 3*time.Second))

	d, clock := newExternal(t, DefaultConfig(), src)
	var events []NoteEvent
	d.OnNoteDetected(func(e NoteEvent) { events = append(events, e) })

	ctx := context.Background()
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}
	startMs := clock.Now().UnixMilli()

	steps := 0
	for {
		clock.Advance(interval)
		res := d.Step(ctx)
		steps++
		if res == StepExhausted {
			break
		}
		if res != StepEmitted && res != StepDebounced {
			t.Fatalf("step %d: unexpected result %s", steps, res)
		}
		if steps > 1000 {
			t.Fatal("source never exhausted")
		}
	}

	if d.IsListening() {
		t.Error("detector still listening after the source was exhausted")
	}
	if len(events) == 0 {
		t.Fatal("no note detected")
	}

	first := events[0]
	if first.PitchClass != chroma.E {
		t.Errorf("first event = %s, want E", first.PitchClass)
	}
	if lag := first.TimestampMs - startMs; lag > 100 {
		t.Errorf("first event after %d ms, want within 100 ms", lag)
	}
	if math.Abs(first.Frequency-329.63) > 3.3 {
		t.Errorf("frequency = %.2f", first.Frequency)
	}
	if first.Confidence < 0.8 {
		t.Errorf("confidence = %.3f", first.Confidence)
	}

	for i := 1; i < len(events); i++ {
		if events[i].PitchClass != chroma.E {
			t.Errorf("event %d = %s, want E", i, events[i].PitchClass)
		}
		if gap := events[i].TimestampMs - events[i-1].TimestampMs; gap <= 300 {
			t.Errorf("events %d and %d only %d ms apart", i-1, i, gap)
		}
	}
}

func TestStep_GatesSilenceBeforeEstimating(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{sampleRate: testRate, frame: make([]float64, 4096)}
	d, _ := newExternal(t, DefaultConfig(), src, WithMetrics(metrics))

	ctx := context.Background()
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if res := d.Step(ctx); res != StepGated {
			t.Fatalf("silent frame: %s, want gated", res)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}

	var gated int64
	estimates := uint64(0)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "pitch.detector.steps":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok && v.AsString() == "gated" {
						gated += dp.Value
					}
				}
			case "pitch.detector.estimate.duration":
				for _, dp := range m.Data.(metricdata.Histogram[float64]).DataPoints {
					estimates += dp.Count
				}
			}
		}
	}
	if gated != 5 {
		t.Errorf("gated steps = %d, want 5", gated)
	}
	if estimates != 0 {
		t.Errorf("estimator ran %d times on silence", estimates)
	}
}

func TestStep_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		frame  []float64
		want   StepResult
	}{
		{"A4 emits", nil, toneFrame(440), StepEmitted},
		{"below octave 2", nil, toneFrame(50), StepOutOfRange},
		{"above octave 7", nil, toneFrame(4500), StepOutOfRange},
		{"confidence gate", func(c *Config) { c.ProbabilityThreshold = 1 }, toneFrame(329.63), StepLowConfidence},
		{"zero frame with open gate", func(c *Config) { c.MinVolume = 0 }, make([]float64, 4096), StepDegenerate},
		{"quiet tone", nil, capture.Synthesize(testRate, capture.Tone(440, 0.0005, 100*time.Millisecond))[:4096], StepGated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			d, _ := newExternal(t, cfg, &fakeSource{sampleRate: testRate, frame: tt.frame})
			if err := d.StartListening(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := d.Step(context.Background()); got != tt.want {
				t.Errorf("Step = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStep_SourceErrors(t *testing.T) {
	src := &fakeSource{sampleRate: testRate, readErr: capture.ErrFrameNotReady}
	d, _ := newExternal(t, DefaultConfig(), src)
	ctx := context.Background()

	if got := d.Step(ctx); got != StepIdle {
		t.Errorf("before start: %s, want idle", got)
	}
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}

	if got := d.Step(ctx); got != StepNoFrame {
		t.Errorf("not ready: %s", got)
	}

	src.mu.Lock()
	src.readErr = errors.New("device unplugged")
	src.mu.Unlock()
	if got := d.Step(ctx); got != StepSourceError {
		t.Errorf("read failure: %s", got)
	}
	if !d.IsListening() {
		t.Error("a read error must not stop the detector")
	}
}

func TestStep_DebounceAndClassChange(t *testing.T) {
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, clock := newExternal(t, DefaultConfig(), src)
	ctx := context.Background()

	var got []chroma.PitchClass
	d.OnNoteDetected(func(e NoteEvent) { got = append(got, e.PitchClass) })
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}

	want := []StepResult{StepEmitted, StepDebounced, StepDebounced}
	for i, w := range want {
		if res := d.Step(ctx); res != w {
			t.Fatalf("step %d: %s, want %s", i, res, w)
		}
		clock.Advance(100 * time.Millisecond)
	}

	src.setFrame(toneFrame(329.63))
	if res := d.Step(ctx); res != StepEmitted {
		t.Fatalf("class change: %s, want emitted", res)
	}

	src.setFrame(toneFrame(440))
	if res := d.Step(ctx); res != StepEmitted {
		t.Fatalf("change back: %s, want emitted", res)
	}

	clock.Advance(301 * time.Millisecond)
	if res := d.Step(ctx); res != StepEmitted {
		t.Fatalf("after window: %s, want emitted", res)
	}

	expect := []chroma.PitchClass{chroma.A, chroma.E, chroma.A, chroma.A}
	if len(got) != len(expect) {
		t.Fatalf("events = %v, want %v", got, expect)
	}
	for i := range expect {
		if got[i] != expect[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], expect[i])
		}
	}
}

func TestStartListening_FailureStaysIdle(t *testing.T) {
	cause := errors.New("permission denied")
	src := &fakeSource{sampleRate: testRate, startErr: cause}
	d, _ := newExternal(t, DefaultConfig(), src)

	err := d.StartListening(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want ErrCaptureUnavailable wrapping the cause", err)
	}
	if d.IsListening() {
		t.Error("detector listening after failed start")
	}

	// Retry succeeds once capture is available.
	src.mu.Lock()
	src.startErr = nil
	src.mu.Unlock()
	if err := d.StartListening(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !d.IsListening() {
		t.Error("retry did not start listening")
	}
}

func TestStartListening_WhileListeningIsNoop(t *testing.T) {
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, _ := newExternal(t, DefaultConfig(), src)
	ctx := context.Background()

	for range 3 {
		if err := d.StartListening(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if starts, _ := src.counts(); starts != 1 {
		t.Errorf("source started %d times", starts)
	}
}

func TestStopListening_Idempotent(t *testing.T) {
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, _ := newExternal(t, DefaultConfig(), src)

	d.StopListening() // before start

	if err := d.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.StopListening()
	d.StopListening()

	if d.IsListening() {
		t.Error("still listening")
	}
	if _, stops := src.counts(); stops != 1 {
		t.Errorf("source stopped %d times, want 1", stops)
	}
	if got := d.Step(context.Background()); got != StepIdle {
		t.Errorf("step after stop = %s", got)
	}
	waitDone(t, d)
}

func TestRestart_ResetsDebouncer(t *testing.T) {
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, _ := newExternal(t, DefaultConfig(), src)
	ctx := context.Background()

	for round := range 2 {
		if err := d.StartListening(ctx); err != nil {
			t.Fatal(err)
		}
		if res := d.Step(ctx); res != StepEmitted {
			t.Errorf("round %d: %s, want emitted", round, res)
		}
		d.StopListening()
	}
}

func TestListenerReplacement(t *testing.T) {
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, clock := newExternal(t, DefaultConfig(), src)
	ctx := context.Background()
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}

	var first, second int
	d.OnNoteDetected(func(NoteEvent) { first++ })
	d.OnNoteDetected(func(NoteEvent) { second++ })
	d.Step(ctx)

	d.OnNoteDetected(nil)
	clock.Advance(time.Second)
	if res := d.Step(ctx); res != StepEmitted {
		t.Fatalf("step without listener: %s", res)
	}

	if first != 0 || second != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first, second)
	}
}

func TestEvents_DropWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EventBuffer = 1
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, _ := newExternal(t, cfg, src)
	ctx := context.Background()
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}

	d.Step(ctx)
	src.setFrame(toneFrame(329.63))
	if res := d.Step(ctx); res != StepEmitted {
		t.Fatalf("second note: %s", res)
	}

	if d.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", d.Dropped())
	}
	select {
	case e := <-d.Events():
		if e.PitchClass != chroma.A {
			t.Errorf("buffered event = %s, want A", e.PitchClass)
		}
	default:
		t.Fatal("no buffered event")
	}

	cfg.EventBuffer = 0
	quiet, _ := newExternal(t, cfg, src)
	if quiet.Events() != nil {
		t.Error("Events should be nil when disabled")
	}
}

func TestLoop_RunsUntilSourceExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectionIntervalMs = 1
	cfg.EventBuffer = 64

	src := capture.NewToneSource(testRate, 10*time.Millisecond,
		capture.Tone(440, 0.5, 300*time.Millisecond))
	d, err := New(cfg, src, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := d.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, d)

	if d.IsListening() {
		t.Error("still listening after exhaustion")
	}
	select {
	case e := <-d.Events():
		if e.PitchClass != chroma.A {
			t.Errorf("event = %s, want A", e.PitchClass)
		}
	default:
		t.Error("loop emitted nothing")
	}
}

func TestLoop_StopFromListener(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectionIntervalMs = 1
	src := &fakeSource{sampleRate: testRate, frame: toneFrame(440)}
	d, err := New(cfg, src, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	calls := 0
	d.OnNoteDetected(func(NoteEvent) {
		mu.Lock()
		calls++
		mu.Unlock()
		d.StopListening()
	})

	if err := d.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, d)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("listener called %d times, want 1", calls)
	}
	if _, stops := src.counts(); stops != 1 {
		t.Errorf("source stopped %d times, want 1", stops)
	}
}

func TestLoop_ContextCancelEndsListening(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DetectionIntervalMs = 1
	src := &fakeSource{sampleRate: testRate, readErr: capture.ErrFrameNotReady}
	d, err := New(cfg, src, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.StartListening(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, d)

	if d.IsListening() {
		t.Error("still listening after context cancel")
	}
	if _, stops := src.counts(); stops != 1 {
		t.Errorf("source stopped %d times, want 1", stops)
	}

	// The detector can be started again after the previous loop ended.
	if err := d.StartListening(context.Background()); err != nil {
		t.Fatal(err)
	}
	d.StopListening()
	waitDone(t, d)
}

func TestStepResult_String(t *testing.T) {
	if StepLowConfidence.String() != "low_confidence" {
		t.Errorf("got %q", StepLowConfidence.String())
	}
	if StepResult(99).String() != "StepResult(99)" {
		t.Errorf("got %q", StepResult(99).String())
	}
}
