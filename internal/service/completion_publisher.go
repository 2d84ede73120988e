package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
	q "github.com/iliyamo/seat-reservation-pipeline/internal/queue"
)

// CompletionPublisher forwards completion broadcasts to the durable
// reservation.completed queue.
// Publish errors are logged and returned; they never affect the
// reservation itself.
type CompletionPublisher struct {
	url   string
	queue string
	log   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewCompletionPublisher(url string) *CompletionPublisher {
	return &CompletionPublisher{url: url, queue: q.CompletedQueue, log: obs.Component("completion-publisher")}
}

// Handle is the broker handler for completion broadcasts.
func (p *CompletionPublisher) Handle(ctx context.Context, msg broker.Message) error {
	var ev model.CompletionEvent
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	return p.Publish(ctx, ev)
}

// Publish writes ev to the durable queue as a persistent message.
func (p *CompletionPublisher) Publish(ctx context.Context, ev model.CompletionEvent) error {
	body, err := json.Marshal(q.NewCompletedMessage(ev))
	if err != nil {
		p.log.Error("marshal event failed", "reservation_id", ev.ReservationID, "error", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		p.log.Error("channel unavailable", "error", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.log.Error("publish failed", "reservation_id", ev.ReservationID, "error", err)
		return err
	}
	return nil
}

// channel dials and declares the queue when needed.  Caller holds p.mu.
func (p *CompletionPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	// idempotent; durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	p.ch = ch
	return ch, nil
}

// Close releases the connection.
func (p *CompletionPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
