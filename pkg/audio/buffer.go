package audio

import "sync"

// Buffer accumulates PCM chunks with a configurable maximum size.
// When full, the oldest data is discarded.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   Config
}

// NewBuffer creates a buffer that holds up to maxDurationMs of audio.
// A maxDurationMs of 0 means unbounded.
func NewBuffer(config Config, maxDurationMs int) *Buffer {
	maxBytes := config.BytesForDurationMs(maxDurationMs)
	return &Buffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data, trimming from the front if the buffer would
// exceed its maximum size.
func (b *Buffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	if b.maxBytes > 0 && len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Bytes returns a copy of all buffered audio.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the current buffer size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// DurationMs returns the buffered duration in milliseconds.
func (b *Buffer) DurationMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// RingBuffer is a fixed-size circular buffer for PCM data. It overwrites
// the oldest data when full. Used by the interruption monitor, which only
// meters a short trailing window.
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	size     int
	writePos int
	filled   int
}

// NewRingBuffer creates a ring buffer holding exactly durationMs of audio.
func NewRingBuffer(config Config, durationMs int) *RingBuffer {
	size := config.BytesForDurationMs(durationMs)
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
}

// Write adds data, overwriting old data if necessary.
func (r *RingBuffer) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % r.size
		if r.filled < r.size {
			r.filled++
		}
	}
}

// Bytes returns the buffered data in chronological order.
func (r *RingBuffer) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.filled < r.size {
		out := make([]byte, r.filled)
		copy(out, r.data[:r.filled])
		return out
	}

	out := make([]byte, r.size)
	first := r.size - r.writePos
	copy(out[:first], r.data[r.writePos:])
	copy(out[first:], r.data[:r.writePos])
	return out
}

// Clear resets the ring buffer.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writePos = 0
	r.filled = 0
}

// Filled returns how many bytes have been written, capped at capacity.
func (r *RingBuffer) Filled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}
