// Package fifo provides a closable FIFO queue, optionally bounded, whose
// consumers can wait with a context.
package fifo

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Pop once the queue is closed and drained,
	// and by Offer on a closed queue.
	ErrClosed = errors.New("fifo: queue closed")
	// ErrFull is returned by Offer when a bounded queue is at its limit.
	ErrFull = errors.New("fifo: queue full")
)

// Queue is safe for any number of producers and consumers. Producers never
// block.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	limit  int // 0: unbounded
	closed bool

	signal chan struct{} // one pending wakeup
	done   chan struct{} // closed by Close
}

// New returns an unbounded queue.
func New[T any]() *Queue[T] { return NewBounded[T](0) }

// NewBounded returns a queue holding at most limit items. A limit <= 0
// means unbounded.
func NewBounded[T any](limit int) *Queue[T] {
	return &Queue[T]{
		items:  make([]T, 0, 16),
		limit:  max(limit, 0),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It reports false if the queue is closed or full.
func (q *Queue[T]) Push(v T) bool { return q.Offer(v) == nil }

// Offer appends v, failing with ErrClosed or ErrFull.
func (q *Queue[T]) Offer(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.limit > 0 && len(q.items)-q.head >= q.limit {
		q.mu.Unlock()
		return ErrFull
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Cap returns the limit, 0 when unbounded.
func (q *Queue[T]) Cap() int { return q.limit }

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes the head item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 64 && q.head*2 > len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v, true
}

// Pop waits for the head item. It returns ctx.Err() when ctx is done and
// ErrClosed once the queue is closed and empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		more := q.head < len(q.items)
		closed := q.closed
		q.mu.Unlock()
		if ok {
			if more {
				// hand the wakeup on to another waiting consumer
				q.wake()
			}
			return v, nil
		}
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-q.signal:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Done is closed when the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} { return q.done }
