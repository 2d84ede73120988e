package broker

import (
	"context"
	"sync"
	"sync/atomic"
)

// queue is an unbounded FIFO of messages with a single reader.
type queue struct {
	mu      sync.Mutex
	backlog []Message
	notify  chan struct{}
	closed  atomic.Bool
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

// enqueue appends msg and wakes the reader.  It reports false once intake
// is closed.
func (q *queue) enqueue(msg Message) bool {
	if q.closed.Load() {
		return false
	}
	q.mu.Lock()
	q.backlog = append(q.backlog, msg)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// next blocks until a message is available or ctx ends.
func (q *queue) next(ctx context.Context) (Message, bool) {
	for {
		q.mu.Lock()
		if len(q.backlog) > 0 {
			msg := q.backlog[0]
			q.backlog[0] = Message{}
			q.backlog = q.backlog[1:]
			q.mu.Unlock()
			return msg, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return Message{}, false
		case <-q.notify:
		}
	}
}

func (q *queue) backlogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

func (q *queue) closeIntake() { q.closed.Store(true) }
