package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/sha1n/kseek/internal/domain"
)

// queue is an unbounded FIFO between the source pull and the evaluation.
// Producers never block; the consumer waits on a one-slot signal.
type queue struct {
	mu     sync.Mutex
	items  []domain.Record
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(items ...domain.Record) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
	q.notify()
}

// close marks the end of input. Items already queued are still delivered.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// popAll removes and returns every queued item, waiting while the queue is
// empty. It returns io.EOF once the queue is closed and drained.
func (q *queue) popAll(ctx context.Context) ([]domain.Record, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			items := q.items
			q.items = nil
			q.mu.Unlock()
			return items, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
