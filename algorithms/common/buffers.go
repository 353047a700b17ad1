package common

// CircularBuffer keeps the most recent samples of a stream. Once full, each
// write overwrites the oldest sample, so Peek always yields the latest window
// in arrival order. Not safe for concurrent use: a single consumer owns it.
type CircularBuffer struct {
	buffer   []float64
	size     int
	writePos int
	readPos  int
	count    int
}

// NewCircularBuffer creates a new circular buffer
func NewCircularBuffer(size int) *CircularBuffer {
	return &CircularBuffer{
		buffer: make([]float64, size),
		size:   size,
	}
}

// Write appends data, overwriting the oldest samples when full
func (cb *CircularBuffer) Write(data []float64) int {
	for _, sample := range data {
		cb.buffer[cb.writePos] = sample
		cb.writePos = (cb.writePos + 1) % cb.size
		if cb.count < cb.size {
			cb.count++
		} else {
			cb.readPos = (cb.readPos + 1) % cb.size
		}
	}
	return len(data)
}

// WriteFloat32 is Write for float32 capture callbacks
func (cb *CircularBuffer) WriteFloat32(data []float32) int {
	for _, sample := range data {
		cb.buffer[cb.writePos] = float64(sample)
		cb.writePos = (cb.writePos + 1) % cb.size
		if cb.count < cb.size {
			cb.count++
		} else {
			cb.readPos = (cb.readPos + 1) % cb.size
		}
	}
	return len(data)
}

// Peek copies the oldest available samples into data without consuming them
func (cb *CircularBuffer) Peek(data []float64) int {
	read := 0
	pos := cb.readPos
	for i := range data {
		if read >= cb.count {
			break
		}
		data[i] = cb.buffer[pos]
		pos = (pos + 1) % cb.size
		read++
	}
	return read
}

// Available returns number of samples available for reading
func (cb *CircularBuffer) Available() int {
	return cb.count
}

// Size returns the capacity
func (cb *CircularBuffer) Size() int {
	return cb.size
}

// Clear empties the buffer
func (cb *CircularBuffer) Clear() {
	cb.writePos = 0
	cb.readPos = 0
	cb.count = 0
}

// IsFull returns true if buffer is full
func (cb *CircularBuffer) IsFull() bool {
	return cb.count == cb.size
}
