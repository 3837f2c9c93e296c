// Package queue provides the bounded buffer that sits between the ingest
// listener and the periodic flusher.
package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO. A bounded queue evicts its oldest
// items when a push would exceed the capacity, so the newest positions are
// the ones that survive a stalled flusher.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	dropped  uint64
}

// New creates an empty queue holding at most capacity items. A capacity
// of zero or less means unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		items:    make([]T, 0),
		capacity: capacity,
	}
}

// Push appends items and returns how many old items were evicted to make
// room.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)

	if q.capacity == 0 || len(q.items) <= q.capacity {
		return 0
	}
	over := len(q.items) - q.capacity
	var zero T
	for i := 0; i < over; i++ {
		q.items[i] = zero
	}
	q.items = q.items[over:]
	q.dropped += uint64(over)
	return over
}

// Pop removes and returns the first item. Returns zero value if empty.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity, zero when unbounded.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Dropped returns the total number of evicted items.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain swaps the buffer for a fresh one and returns everything that was
// queued, oldest first. Pushes during the swap land in the new buffer.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	size := len(result)
	if q.capacity > 0 && size > q.capacity {
		size = q.capacity
	}
	q.items = make([]T, 0, size)
	return result
}
