package capture

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// BufferSource plays back in-memory PCM as if it were arriving live. Every
// ReadFrame advances a play cursor by one hop and returns the window that
// ends at the cursor; samples before the start of the buffer read as zero.
type BufferSource struct {
	mu sync.Mutex

	samples    []float64
	sampleRate int
	hop        int

	cursor  int
	primed  bool
	started bool
}

// NewBufferSource creates a source over samples that advances by
// sampleRate×interval samples per read
func NewBufferSource(samples []float64, sampleRate int, interval time.Duration) *BufferSource {
	return &BufferSource{
		samples:    samples,
		sampleRate: sampleRate,
		hop:        HopSize(sampleRate, interval),
	}
}

// Start rewinds the play cursor
func (b *BufferSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.sampleRate <= 0 {
		return fmt.Errorf("capture: invalid sample rate %d", b.sampleRate)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = 0
	b.primed = false
	b.started = true
	return nil
}

// Stop marks the source stopped; safe to call repeatedly
func (b *BufferSource) Stop() error {
	b.mu.Lock()
	b.started = false
	b.mu.Unlock()
	return nil
}

// SampleRate returns the rate the samples were recorded at
func (b *BufferSource) SampleRate() int {
	return b.sampleRate
}

// Hop returns the number of samples the cursor advances per read
func (b *BufferSource) Hop() int {
	return b.hop
}

// Len returns the total number of samples
func (b *BufferSource) Len() int {
	return len(b.samples)
}

// ReadFrame fills dst with the window ending at the advanced cursor. The
// first read positions the cursor at len(dst). The tail shorter than a hop is
// still delivered once before io.EOF.
func (b *BufferSource) ReadFrame(dst []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return ErrNotStarted
	}
	if len(dst) == 0 {
		return fmt.Errorf("capture: empty destination frame")
	}

	total := len(b.samples)
	switch {
	case !b.primed:
		if total == 0 {
			return io.EOF
		}
		b.cursor = min(len(dst), total)
		b.primed = true
	case b.cursor >= total:
		return io.EOF
	default:
		b.cursor = min(b.cursor+b.hop, total)
	}

	start := b.cursor - len(dst)
	for i := range dst {
		idx := start + i
		if idx < 0 {
			dst[i] = 0
			continue
		}
		dst[i] = b.samples[idx]
	}
	return nil
}

// Position returns the current cursor as elapsed stream time
func (b *BufferSource) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(b.cursor) * time.Second / time.Duration(b.sampleRate)
}
