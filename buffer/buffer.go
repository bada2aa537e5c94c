// Package buffer holds accepted readings between metric pushes.
package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe circular buffer. When full, Add overwrites the
// oldest item and counts it as overwritten.
type RingBuffer[T any] struct {
	mu          sync.Mutex
	data        []T
	head        int // next write position
	size        int
	overwritten uint64
	logger      *zap.Logger
}

// New creates a RingBuffer holding at most capacity items. A capacity below
// one is raised to one.
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:   make([]T, capacity),
		logger: logger,
	}
}

// Add appends items in order.
func (rb *RingBuffer[T]) Add(items ...T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(rb.data)
	for _, item := range items {
		if rb.size == n {
			rb.overwritten++
			if rb.overwritten == 1 || rb.overwritten%100 == 0 {
				rb.logger.Warn("ring buffer full, overwriting oldest entry",
					zap.Int("capacity", n),
					zap.Uint64("overwritten", rb.overwritten))
			}
		} else {
			rb.size++
		}
		rb.data[rb.head] = item
		rb.head = (rb.head + 1) % n
	}
}

// Drain removes and returns every buffered item, oldest first.
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	n := len(rb.data)
	out := make([]T, rb.size)
	start := (rb.head - rb.size + n) % n
	for i := range out {
		out[i] = rb.data[(start+i)%n]
	}

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.size = 0
	rb.head = 0
	return out
}

// Len returns the number of buffered items.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

func (rb *RingBuffer[T]) Capacity() int {
	return len(rb.data)
}

// Overwritten returns how many items were lost to overwrites.
func (rb *RingBuffer[T]) Overwritten() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.overwritten
}
