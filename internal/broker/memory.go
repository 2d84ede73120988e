package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

type partitionKey struct {
	topic     string
	partition int
}

// Memory is an in-process broker.  Each (topic, partition) is a queue that
// buffers messages until its consumer attaches, so nothing published
// before start-up is lost.  Several service instances can share one
// Memory broker to simulate a cluster inside a single process.
type Memory struct {
	partitions int
	log        *slog.Logger

	// inflight counts messages enqueued but not yet handled.  A handler
	// publishes its follow-ups before its own message is counted done,
	// so the counter only reaches zero when the whole flow is quiet.
	inflight atomic.Int64

	mu          sync.Mutex
	queues      map[partitionKey]*queue
	consumed    map[partitionKey]bool
	subscribers map[string][]*queue
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemory returns a broker with the given number of partitions per topic.
func NewMemory(partitions int) *Memory {
	if partitions <= 0 {
		partitions = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Memory{
		partitions:  partitions,
		log:         obs.Component("broker"),
		queues:      make(map[partitionKey]*queue),
		consumed:    make(map[partitionKey]bool),
		subscribers: make(map[string][]*queue),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (m *Memory) Partitions() int { return m.partitions }

// queueFor returns the queue of (topic, p), creating it on first use.
// Caller holds m.mu.
func (m *Memory) queueFor(topic string, p int) *queue {
	k := partitionKey{topic, p}
	q, ok := m.queues[k]
	if !ok {
		q = newQueue()
		m.queues[k] = q
	}
	return q
}

func (m *Memory) Publish(_ context.Context, msg Message) error {
	msg = route(msg, m.partitions)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	q := m.queueFor(msg.Topic, msg.Partition)
	m.mu.Unlock()
	m.inflight.Add(1)
	if !q.enqueue(msg) {
		m.inflight.Add(-1)
		return ErrClosed
	}
	return nil
}

func (m *Memory) Consume(ctx context.Context, topic string, p int, h Handler) error {
	if p < 0 || p >= m.partitions {
		return fmt.Errorf("broker: partition %d out of range", p)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	k := partitionKey{topic, p}
	if m.consumed[k] {
		m.mu.Unlock()
		return fmt.Errorf("broker: %s/%d: %w", topic, p, ErrAlreadyConsumed)
	}
	m.consumed[k] = true
	q := m.queueFor(topic, p)
	m.mu.Unlock()

	m.run(ctx, q, h, func() {
		m.mu.Lock()
		delete(m.consumed, k)
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) Broadcast(_ context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	subs := append([]*queue(nil), m.subscribers[msg.Topic]...)
	m.mu.Unlock()
	for _, q := range subs {
		m.inflight.Add(1)
		if !q.enqueue(msg) {
			m.inflight.Add(-1)
		}
	}
	return nil
}

func (m *Memory) SubscribeBroadcast(ctx context.Context, topic string, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	q := newQueue()
	m.subscribers[topic] = append(m.subscribers[topic], q)
	m.mu.Unlock()

	m.run(ctx, q, h, func() {
		m.mu.Lock()
		subs := m.subscribers[topic]
		for i, s := range subs {
			if s == q {
				m.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		// drop whatever is left so WaitIdle does not wait on a gone reader
		q.closeIntake()
		for q.backlogSize() > 0 {
			if _, ok := q.next(context.Background()); ok {
				m.inflight.Add(-1)
			}
		}
	})
	return nil
}

// run delivers q to h on a new goroutine until ctx or the broker ends.
func (m *Memory) run(ctx context.Context, q *queue, h Handler, done func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer done()
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(m.ctx, cancel)
		defer stop()
		for {
			msg, ok := q.next(runCtx)
			if !ok {
				return
			}
			if err := h(runCtx, msg); err != nil {
				m.log.Error("handler failed", "topic", msg.Topic, "partition", msg.Partition, "kind", msg.Kind, "key", msg.Key, "error", err)
			}
			m.inflight.Add(-1)
		}
	}()
}

// WaitIdle blocks until every published message has been handled or ctx
// is done.  It reports whether the broker went idle.
func (m *Memory) WaitIdle(ctx context.Context) bool {
	for {
		if m.idle() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *Memory) idle() bool { return m.inflight.Load() == 0 }

// Close stops every consumer and waits for in-flight handlers.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		q.closeIntake()
	}
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
	return nil
}
