package concurrency

import (
	"errors"
	"time"
)

var (
	// ErrNilTask is returned when a nil task is submitted
	ErrNilTask = errors.New("task cannot be nil")

	// ErrExecutorShutdown is returned when submitting to an executor that is no longer running
	ErrExecutorShutdown = errors.New("executor is shut down")

	// ErrInvalidConfig is wrapped by pool configuration validation errors
	ErrInvalidConfig = errors.New("invalid pool configuration")

	// ErrTaskPanicked wraps the value recovered from a panicking task
	ErrTaskPanicked = errors.New("task panicked")
)

// DefaultQueueCapacity is used when a queue is built with a capacity below 1
const DefaultQueueCapacity = 100

// BoundedQueue is a fixed-capacity FIFO buffer.
// Hides chan type and select statements from the executor.
type BoundedQueue[T any] struct {
	ch       chan T // Hidden: internal channel
	capacity int
}

// NewBoundedQueue creates a queue that holds at most capacity items
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}

	return &BoundedQueue[T]{
		ch:       make(chan T, capacity),
		capacity: capacity,
	}
}

// NewBoundedTaskQueue creates a queue of tasks
func NewBoundedTaskQueue(capacity int) *BoundedQueue[Task] {
	return NewBoundedQueue[Task](capacity)
}

// Offer enqueues without blocking.
// Returns false if the queue is full.
func (q *BoundedQueue[T]) Offer(item T) bool {
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Poll dequeues without blocking.
func (q *BoundedQueue[T]) Poll() (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// PollTimeout waits up to timeout for an item. It gives up early when done
// is closed and nothing is left to drain.
func (q *BoundedQueue[T]) PollTimeout(timeout time.Duration, done <-chan struct{}) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.ch:
		return item, true
	case <-timer.C:
		var zero T
		return zero, false
	case <-done:
		return q.Poll()
	}
}

// Take waits until an item is available, or until done is closed and the
// queue has been drained.
func (q *BoundedQueue[T]) Take(done <-chan struct{}) (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	case <-done:
		return q.Poll()
	}
}

// Size returns the current number of queued items
func (q *BoundedQueue[T]) Size() int {
	return len(q.ch)
}

// Capacity returns the fixed capacity
func (q *BoundedQueue[T]) Capacity() int {
	return q.capacity
}

// Remaining returns the number of free slots
func (q *BoundedQueue[T]) Remaining() int {
	return q.capacity - len(q.ch)
}

// IsFull reports whether Offer would currently fail
func (q *BoundedQueue[T]) IsFull() bool {
	return len(q.ch) == q.capacity
}

// IsEmpty reports whether Poll would currently fail
func (q *BoundedQueue[T]) IsEmpty() bool {
	return len(q.ch) == 0
}
