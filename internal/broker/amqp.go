package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

// AMQP maps the broker onto RabbitMQ.
//
//   - partition p of topic t is the durable queue "t.p", consumed by one
//     exclusive consumer, so deliveries stay in publish order;
//   - a broadcast topic is a durable fanout exchange; every subscriber
//     binds its own server-named, auto-deleted queue to it.
//
// Publishing uses one long-lived channel guarded by a mutex and redials
// when the connection drops.  Consumers run the reconnect loop with
// doubling backoff up to 30s.
type AMQP struct {
	url        string
	partitions int
	prefetch   int
	log        *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAMQP returns a broker dialing url lazily.  prefetch <= 0 means 50.
func NewAMQP(url string, partitions, prefetch int) *AMQP {
	if partitions <= 0 {
		partitions = 1
	}
	if prefetch <= 0 {
		prefetch = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQP{
		url:        url,
		partitions: partitions,
		prefetch:   prefetch,
		log:        obs.Component("amqp-broker"),
		declared:   make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// QueueName is the RabbitMQ queue backing one partition of a topic.
func QueueName(topic string, p int) string {
	return topic + "." + strconv.Itoa(p)
}

func (a *AMQP) Partitions() int { return a.partitions }

// channel returns the publishing channel, dialing if needed.  Caller
// holds a.mu.
func (a *AMQP) channel() (*amqp.Channel, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.ch != nil && !a.ch.IsClosed() && a.conn != nil && !a.conn.IsClosed() {
		return a.ch, nil
	}
	if a.conn == nil || a.conn.IsClosed() {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			return nil, fmt.Errorf("amqp: dial: %w", err)
		}
		a.conn = conn
	}
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp: channel open: %w", err)
	}
	a.ch = ch
	// a fresh channel may sit on a fresh connection; declare again
	a.declared = make(map[string]bool)
	return ch, nil
}

func (a *AMQP) Publish(ctx context.Context, msg Message) error {
	msg = route(msg, a.partitions)
	name := QueueName(msg.Topic, msg.Partition)

	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return err
	}
	if !a.declared[name] {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: queue declare %s: %w", name, err)
		}
		a.declared[name] = true
	}
	if err := ch.PublishWithContext(ctx, "", name, false, false, toPublishing(msg, amqp.Persistent)); err != nil {
		return fmt.Errorf("amqp: publish %s: %w", name, err)
	}
	return nil
}

func (a *AMQP) Broadcast(ctx context.Context, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, err := a.channel()
	if err != nil {
		return err
	}
	exchange := "x." + msg.Topic
	if !a.declared[exchange] {
		if err := ch.ExchangeDeclare(msg.Topic, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: exchange declare %s: %w", msg.Topic, err)
		}
		a.declared[exchange] = true
	}
	if err := ch.PublishWithContext(ctx, msg.Topic, "", false, false, toPublishing(msg, amqp.Transient)); err != nil {
		return fmt.Errorf("amqp: broadcast %s: %w", msg.Topic, err)
	}
	return nil
}

func (a *AMQP) Consume(ctx context.Context, topic string, p int, h Handler) error {
	if p < 0 || p >= a.partitions {
		return fmt.Errorf("broker: partition %d out of range", p)
	}
	name := QueueName(topic, p)
	return a.start(ctx, name, h, func(ch *amqp.Channel) (string, bool, error) {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return "", false, fmt.Errorf("queue declare: %w", err)
		}
		return name, true, nil
	}, topic, p)
}

func (a *AMQP) SubscribeBroadcast(ctx context.Context, topic string, h Handler) error {
	return a.start(ctx, "x."+topic, h, func(ch *amqp.Channel) (string, bool, error) {
		if err := ch.ExchangeDeclare(topic, "fanout", true, false, false, false, nil); err != nil {
			return "", false, fmt.Errorf("exchange declare: %w", err)
		}
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return "", false, fmt.Errorf("queue declare: %w", err)
		}
		if err := ch.QueueBind(q.Name, "", topic, false, nil); err != nil {
			return "", false, fmt.Errorf("queue bind: %w", err)
		}
		return q.Name, false, nil
	}, topic, -1)
}

// setupFunc declares the source of deliveries on ch and returns the queue
// to consume plus whether the consumer is exclusive.
type setupFunc func(ch *amqp.Channel) (queue string, exclusive bool, err error)

func (a *AMQP) start(ctx context.Context, label string, h Handler, setup setupFunc, topic string, p int) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(a.ctx, cancel)
		defer stop()
		a.consumeForever(runCtx, label, h, setup, topic, p)
	}()
	return nil
}

// consumeForever dials, consumes until the connection drops, and retries
// with backoff until ctx ends.
func (a *AMQP) consumeForever(ctx context.Context, label string, h Handler, setup setupFunc, topic string, p int) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.log.Warn("dial failed", "queue", label, "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = a.consumeLoop(ctx, conn, h, setup, topic, p)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		a.log.Warn("consume loop ended; reconnecting", "queue", label, "error", err)
		if !sleepCtx(ctx, 2*time.Second) {
			return
		}
	}
}

func (a *AMQP) consumeLoop(ctx context.Context, conn *amqp.Connection, h Handler, setup setupFunc, topic string, p int) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(a.prefetch, 0, false); err != nil {
		a.log.Warn("set QoS failed", "error", err)
	}

	name, exclusive, err := setup(ch)
	if err != nil {
		return err
	}
	deliveries, err := ch.Consume(name, "", false, exclusive, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			msg := fromDelivery(d, topic, p)
			if err := h(ctx, msg); err != nil {
				a.log.Error("handler failed", "topic", topic, "partition", p, "kind", msg.Kind, "key", msg.Key, "error", err)
				_ = d.Nack(false, false) // do not requeue; avoids tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close stops every consumer, waits for them and closes the publisher.
func (a *AMQP) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func toPublishing(msg Message, mode uint8) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Timestamp:    msg.Timestamp,
		Type:         msg.Kind,
		Headers:      amqp.Table{"key": msg.Key},
		Body:         msg.Body,
	}
}

func fromDelivery(d amqp.Delivery, topic string, p int) Message {
	key, _ := d.Headers["key"].(string)
	if p < 0 {
		p = 0
	}
	return Message{
		Topic:     topic,
		Key:       key,
		Kind:      d.Type,
		Partition: p,
		Body:      d.Body,
		Timestamp: d.Timestamp,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
