// Package memory provides the in-process work queue shared by pipeline workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNegativeCapacity is returned when a queue is constructed with a negative admission cap.
var ErrNegativeCapacity = errors.New("queue capacity must be >= 0")

// Queue is a FIFO work queue with a lifetime admission cap and in-flight accounting.
//
// The capacity limits how many items the queue will ever accept, not how many it
// holds at once. Once the cap is reached the queue is closed to admission and
// further Enqueue calls are no-ops. Every accepted item stays unfinished until
// a matching Done call, which is what Wait observes.
type Queue[T any] struct {
	mu         sync.Mutex
	items      []T
	capacity   int
	admitted   int
	unfinished int
	closed     bool

	// wake carries at most one pending wake-up for blocked Dequeue callers.
	wake chan struct{}
	// idle is closed whenever unfinished drops to zero.
	idle chan struct{}
}

// NewQueue constructs a queue. A capacity of zero means unbounded admissions.
func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNegativeCapacity, capacity)
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		idle:     idle,
	}, nil
}

// Enqueue appends item unless the queue is closed to admission. It reports
// whether the item was accepted.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.admitted++
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++
	if q.capacity > 0 && q.admitted >= q.capacity {
		q.closed = true
	}
	q.signal()
	return true
}

// Dequeue pops the oldest item, blocking until one is available or ctx ends.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.wake:
		}
	}
}

// Done acknowledges one dequeued item. It must be called exactly once per
// successful Dequeue, including on error paths.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished <= 0 {
		panic("memory: Done called more times than items were enqueued")
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
}

// Wait blocks until every accepted item has been dequeued and acknowledged.
func (q *Queue[T]) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	case <-idle:
		return nil
	}
}

// Closed reports whether the admission cap has been reached.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Pending returns the number of items waiting to be dequeued.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished returns the number of accepted items not yet acknowledged.
func (q *Queue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Admitted returns the lifetime number of accepted items.
func (q *Queue[T]) Admitted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.admitted
}

// Capacity returns the configured admission cap (zero when unbounded).
func (q *Queue[T]) Capacity() int {
	return q.capacity
}

// signal must be called with mu held.
func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
