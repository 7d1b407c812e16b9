package audio

import (
	"fmt"
	"sync"
	"time"
)

// RingBuffer is a fixed-capacity circular byte buffer for raw PCM audio.
// Writes never block and never grow the buffer: once full, the oldest bytes
// are silently discarded so the buffer always holds the most recent
// min(written, capacity) bytes in original order.
//
// A single mutex guards all operations, making the buffer safe for one
// writer goroutine (the capture callback) and any number of readers.
// Operations are O(bytes moved), never O(capacity) except when a wrapped
// read requires two copies.
type RingBuffer struct {
	mu    sync.Mutex
	data  []byte
	start int // index of the oldest valid byte
	count int // number of valid bytes, 0 ≤ count ≤ len(data)
}

// NewRing creates a RingBuffer with the given capacity in bytes.
// Panics if capacity is not positive; a zero-capacity ring is a bug at the
// call site, not a runtime condition.
func NewRing(capacity int) *RingBuffer {
	if capacity <= 0 {
		panic(fmt.Sprintf("audio: ring capacity must be positive, got %d", capacity))
	}
	return &RingBuffer{data: make([]byte, capacity)}
}

// NewRingForDuration creates a RingBuffer sized to hold d of PCM audio at the
// given format. bitsPerSample is 16 for the pipeline's working format.
func NewRingForDuration(d time.Duration, sampleRate, channels, bitsPerSample int) *RingBuffer {
	bytesPerSec := sampleRate * channels * bitsPerSample / 8
	capacity := int(int64(bytesPerSec) * int64(d) / int64(time.Second))
	return NewRing(capacity)
}

// Write copies p into the ring, overwriting the oldest data once full.
// It never blocks and always accepts the full input.
func (r *RingBuffer) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.data)

	// Input alone exceeds capacity: only its tail survives.
	if len(p) >= capacity {
		copy(r.data, p[len(p)-capacity:])
		r.start = 0
		r.count = capacity
		return
	}

	writePos := (r.start + r.count) % capacity
	n := copy(r.data[writePos:], p)
	if n < len(p) {
		copy(r.data, p[n:])
	}

	r.count += len(p)
	if r.count > capacity {
		// Oldest bytes were overwritten; advance start past them.
		r.start = (r.start + r.count - capacity) % capacity
		r.count = capacity
	}
}

// ReadAll returns all valid bytes in chronological order and clears the ring.
// Returns nil when the ring is empty.
func (r *RingBuffer) ReadAll() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	out := make([]byte, r.count)
	r.copyOldest(out)
	r.start = 0
	r.count = 0
	return out
}

// ReadInto fills dst with up to len(dst) of the oldest bytes, removes them
// from the ring, and returns the number of bytes copied. This is the pooled
// variant of [RingBuffer.ReadAll]: the caller owns dst and may reuse it
// across calls to avoid per-read allocations.
func (r *RingBuffer) ReadInto(dst []byte) int {
	n, _ := r.TryRead(dst)
	return n
}

// TryRead copies up to len(dst) oldest-first bytes into dst and removes them
// from the ring. Partial reads leave the remainder in place. ok is false only
// when the ring held no data at all.
func (r *RingBuffer) TryRead(dst []byte) (n int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || len(dst) == 0 {
		return 0, r.count > 0
	}
	n = len(dst)
	if n > r.count {
		n = r.count
	}
	r.copyOldest(dst[:n])
	r.start = (r.start + n) % len(r.data)
	r.count -= n
	return n, true
}

// Peek is identical to [RingBuffer.TryRead] but non-consuming: the copied
// bytes remain in the ring.
func (r *RingBuffer) Peek(dst []byte) (n int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || len(dst) == 0 {
		return 0, r.count > 0
	}
	n = len(dst)
	if n > r.count {
		n = r.count
	}
	r.copyOldest(dst[:n])
	return n, true
}

// Skip discards the n oldest bytes without copying them. Skipping more than
// is buffered clears the ring.
func (r *RingBuffer) Skip(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if n >= r.count {
		r.start = 0
		r.count = 0
		return
	}
	r.start = (r.start + n) % len(r.data)
	r.count -= n
}

// Clear resets the ring to empty without releasing its backing array.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
}

// Len returns the number of valid bytes currently buffered.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity of the ring in bytes.
func (r *RingBuffer) Cap() int {
	return len(r.data)
}

// copyOldest copies the len(dst) oldest bytes into dst in chronological
// order. Must be called with r.mu held and len(dst) ≤ r.count.
func (r *RingBuffer) copyOldest(dst []byte) {
	n := copy(dst, r.data[r.start:])
	if n < len(dst) {
		copy(dst[n:], r.data)
	}
}
