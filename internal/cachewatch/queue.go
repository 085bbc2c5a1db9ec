package cachewatch

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueClosed = errors.New("path queue closed")
	ErrQueueFull   = errors.New("path queue full")
)

// Queue carries derived data file paths from the watcher to the ingestion worker.
//
// Push never blocks. With limit 0 the queue is unbounded; otherwise Push fails with
// ErrQueueFull once limit paths are waiting. After Close, Push fails and Next keeps
// returning queued paths until the queue is empty, then ErrQueueClosed.
type Queue struct {
	mu     sync.Mutex
	items  []string
	limit  int
	closed bool

	ready chan struct{} // cap 1, signalled on push
	done  chan struct{} // closed by Close
}

func NewQueue(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *Queue) Push(path string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, path)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a path is available, the queue is closed and drained, or ctx is done.
func (q *Queue) Next(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			if !more {
				// release the backing array once drained
				q.items = nil
			}
			q.mu.Unlock()
			if more {
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return p, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
