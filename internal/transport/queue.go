// Package transport provides the ordered message queues the two engines
// exchange session commands and events over. Each direction is one
// queue: any number of producers, exactly one consumer.
package transport

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO. Sends never block; the consumer blocks in
// Receive until a message or context cancellation. Messages are
// delivered in send order. Backpressure for high-volume traffic is the
// callers' concern (the session layer's XON credits).
type Queue[M any] struct {
	mu     sync.Mutex
	items  []M
	signal chan struct{}
	closed bool
}

// NewQueue returns an empty queue.
func NewQueue[M any]() *Queue[M] {
	return &Queue[M]{signal: make(chan struct{}, 1)}
}

// Send appends a message. Safe for concurrent producers. Sending on a
// closed queue drops the message.
func (q *Queue[M]) Send(m M) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Receive returns the next message, blocking until one is available or
// ctx is done. ok is false on cancellation or when the queue is closed
// and drained.
func (q *Queue[M]) Receive(ctx context.Context) (m M, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m = q.items[0]
			// Release the backing array slot so consumed messages can
			// be collected.
			var zero M
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return m, false
		}

		select {
		case <-ctx.Done():
			return m, false
		case <-q.signal:
		}
	}
}

// Len reports the number of queued messages.
func (q *Queue[M]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further sends. Queued messages remain receivable until
// drained.
func (q *Queue[M]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
