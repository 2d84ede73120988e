// Package ticketstream fans ticket status changes out to per-event
// subscribers, typically server-sent event streams.
package ticketstream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

// EventName is the SSE event name used for updates.
const EventName = "ticket-status-update"

// Subscription receives batches of updated tickets for one event.
type Subscription struct {
	eventID int64
	ch      chan []model.Ticket
	hub     *Hub
	once    sync.Once
}

// C delivers updates.  It is closed when the subscription ends, either by
// Close or because the subscriber fell too far behind.
func (s *Subscription) C() <-chan []model.Ticket { return s.ch }

// Close ends the subscription.
func (s *Subscription) Close() { s.hub.remove(s) }

// Hub is safe for concurrent use.
type Hub struct {
	buffer int
	log    *slog.Logger

	mu   sync.Mutex
	subs map[int64]map[*Subscription]struct{}
}

// NewHub returns a hub whose subscribers buffer up to buffer batches.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, log: obs.Component("ticket-stream"), subs: make(map[int64]map[*Subscription]struct{})}
}

// Subscribe registers a subscriber for eventID.
func (h *Hub) Subscribe(eventID int64) *Subscription {
	s := &Subscription{eventID: eventID, ch: make(chan []model.Ticket, h.buffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[eventID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[eventID] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// removeLocked drops s and closes its channel.  Caller holds h.mu.
func (h *Hub) removeLocked(s *Subscription) {
	if set, ok := h.subs[s.eventID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.eventID)
		}
	}
	s.once.Do(func() { close(s.ch) })
}

// Publish sends tickets to every subscriber of eventID.  A subscriber whose
// buffer is full is dropped rather than blocking the publisher.
func (h *Hub) Publish(eventID int64, tickets []model.Ticket) {
	if len(tickets) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[eventID] {
		select {
		case s.ch <- tickets:
		default:
			h.log.Warn("dropping slow subscriber", "event_id", eventID)
			h.removeLocked(s)
		}
	}
}

// Subscribers is the number of subscribers for eventID.
func (h *Hub) Subscribers(eventID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[eventID])
}

// Handle feeds the hub straight from completion broadcasts, for
// deployments without the ticket catalog.  Confirmed seats are reported
// as RESERVED tickets without catalog ids.
func (h *Hub) Handle(_ context.Context, msg broker.Message) error {
	var ev model.CompletionEvent
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	if ev.Status != model.StatusConfirmed {
		return nil
	}
	tickets := make([]model.Ticket, len(ev.AllocatedSeats))
	for i, seat := range ev.AllocatedSeats {
		tickets[i] = model.Ticket{EventID: ev.EventID, SeatNumber: seat, Status: model.TicketReserved}
	}
	h.Publish(ev.EventID, tickets)
	return nil
}
