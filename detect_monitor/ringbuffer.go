package main

// RingBuffer is a generic FIFO buffer with fixed capacity
type RingBuffer[T any] struct {
	data     []T
	capacity int
	head     int
	size     int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
// A capacity below 1 is treated as 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Push adds an item to the ring buffer, evicting the oldest if at capacity.
// Reports whether an item was evicted.
func (rb *RingBuffer[T]) Push(item T) bool {
	evicted := rb.size == rb.capacity
	rb.data[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
	return evicted
}

// GetAll returns all items in the ring buffer (oldest to newest)
func (rb *RingBuffer[T]) GetAll() []T {
	if rb.size == 0 {
		return []T{}
	}

	result := make([]T, rb.size)
	if rb.size < rb.capacity {
		copy(result, rb.data[:rb.size])
	} else {
		// Items from head to end are oldest, 0 to head-1 are newest
		tailSize := rb.capacity - rb.head
		copy(result, rb.data[rb.head:])
		copy(result[tailSize:], rb.data[:rb.head])
	}
	return result
}

// Last returns the newest item, if any
func (rb *RingBuffer[T]) Last() (T, bool) {
	var zero T
	if rb.size == 0 {
		return zero, false
	}
	return rb.data[(rb.head-1+rb.capacity)%rb.capacity], true
}

// Size returns the current number of items in the buffer
func (rb *RingBuffer[T]) Size() int {
	return rb.size
}

// Cap returns the maximum number of retained items
func (rb *RingBuffer[T]) Cap() int {
	return rb.capacity
}

// Clear drops every item
func (rb *RingBuffer[T]) Clear() {
	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.head = 0
	rb.size = 0
}
