// Package observe provides the OpenTelemetry metric instruments of the pitch
// detector and the SDK provider that exposes them to Prometheus.
//
// Tests should build [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider]; [DefaultMetrics] binds to the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all detector metrics.
const meterName = "github.com/AaronDesignStudio/play-the-chord"

// Metrics holds the detector's instruments. Safe for concurrent use.
type Metrics struct {
	// Steps counts detection steps by outcome. Attribute: outcome.
	Steps metric.Int64Counter

	// Notes counts emitted note events. Attribute: pitch_class.
	Notes metric.Int64Counter

	// EstimateDuration is the wall time of one YIN estimate.
	EstimateDuration metric.Float64Histogram

	// Confidence records the confidence of every voiced estimate.
	Confidence metric.Float64Histogram

	// Listening is 1 while a detector is listening.
	Listening metric.Int64UpDownCounter

	// EventsDropped counts events a lagging Events() consumer missed.
	EventsDropped metric.Int64Counter
}

// estimateBuckets cover a 4096-sample direct YIN (tens of ms) down to the
// FFT path (sub-millisecond).
var estimateBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var confidenceBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1,
}

// NewMetrics creates all instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Steps, err = m.Int64Counter("pitch.detector.steps",
		metric.WithDescription("Detection steps by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Notes, err = m.Int64Counter("pitch.detector.notes",
		metric.WithDescription("Emitted note events by pitch class."),
	); err != nil {
		return nil, err
	}
	if met.EstimateDuration, err = m.Float64Histogram("pitch.detector.estimate.duration",
		metric.WithDescription("Latency of one pitch estimate."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(estimateBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Confidence, err = m.Float64Histogram("pitch.detector.confidence",
		metric.WithDescription("Confidence of voiced pitch estimates."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Listening, err = m.Int64UpDownCounter("pitch.detector.listening",
		metric.WithDescription("Number of detectors currently listening."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("pitch.detector.events.dropped",
		metric.WithDescription("Note events dropped because the event channel was full."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance bound to
// [otel.GetMeterProvider], created on first use. Call it after
// [InitProvider] so the instruments land on the Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordStep counts one detection step
func (m *Metrics) RecordStep(ctx context.Context, outcome string) {
	m.Steps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordNote counts one emitted note
func (m *Metrics) RecordNote(ctx context.Context, pitchClass string) {
	m.Notes.Add(ctx, 1, metric.WithAttributes(attribute.String("pitch_class", pitchClass)))
}

// RecordEstimate records the latency of an estimate and, when voiced, its confidence
func (m *Metrics) RecordEstimate(ctx context.Context, elapsed time.Duration, confidence float64, voiced bool) {
	m.EstimateDuration.Record(ctx, elapsed.Seconds())
	if voiced {
		m.Confidence.Record(ctx, confidence)
	}
}

// SetListening moves the listening gauge up or down by one
func (m *Metrics) SetListening(ctx context.Context, listening bool) {
	if listening {
		m.Listening.Add(ctx, 1)
		return
	}
	m.Listening.Add(ctx, -1)
}

// RecordDropped counts one dropped event
func (m *Metrics) RecordDropped(ctx context.Context) {
	m.EventsDropped.Add(ctx, 1)
}
