// Package broker carries pipeline messages between stages.  Topics are
// split into partitions; every partition is an ordered log with a single
// consumer, which is what lets each stage act as the only writer of the
// records in its shard.  Broadcast topics fan a message out to every
// subscriber on every instance.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/partition"
)

// ErrAlreadyConsumed is returned when a second consumer is attached to a
// partition that already has one.
var ErrAlreadyConsumed = errors.New("partition already has a consumer")

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is one record on a topic.  Body holds the JSON encoding of the
// payload; Kind tells the consumer which payload type to decode.
type Message struct {
	Topic     string
	Key       string
	Kind      string
	Partition int
	Body      []byte
	Timestamp time.Time
}

// NewMessage encodes v as the body of a message for topic.
func NewMessage(topic, key, kind string, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("broker: encode %s: %w", kind, err)
	}
	return Message{Topic: topic, Key: key, Kind: kind, Body: body, Timestamp: time.Now().UTC()}, nil
}

// Decode unmarshals the body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("broker: decode %s on %s: %w", m.Kind, m.Topic, err)
	}
	return nil
}

// Handler processes one message.  A returned error is logged and the
// message is dropped; it is not redelivered.
type Handler func(ctx context.Context, msg Message) error

// Broker is the transport used by the pipeline.
//
// Consume and SubscribeBroadcast register the handler and return right
// away; delivery happens on a background goroutine until ctx ends or
// the broker is closed.  Messages of one partition are handed to the
// handler one at a time in publish order.
type Broker interface {
	Partitions() int
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context, topic string, partition int, h Handler) error
	Broadcast(ctx context.Context, msg Message) error
	SubscribeBroadcast(ctx context.Context, topic string, h Handler) error
	Close() error
}

// route fills in the partition of msg from its key.
func route(msg Message, partitions int) Message {
	msg.Partition = partition.For(msg.Key, partitions)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg
}
