// Package queue defines the outcome messages handed to systems outside the
// pipeline, and a consumer that journals them.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// CompletedQueue is the durable queue external consumers read outcomes from.
const CompletedQueue = "reservation.completed"

// ReservationCompletedMessage is published when a reservation is decided.
// It contains enough information for downstream consumers to log, notify,
// or trigger analytics without querying the service.
type ReservationCompletedMessage struct {
	ReservationID string   `json:"reservation_id"`
	EventID       int64    `json:"event_id"`
	UserID        string   `json:"user_id"`
	Section       string   `json:"section"`
	Status        string   `json:"status"`
	SeatLabels    []string `json:"seats"`
	CompletedAt   string   `json:"completed_at"`
}

// NewCompletedMessage converts a completion event.
func NewCompletedMessage(ev model.CompletionEvent) ReservationCompletedMessage {
	seats := ev.AllocatedSeats
	if seats == nil {
		seats = []string{}
	}
	return ReservationCompletedMessage{
		ReservationID: ev.ReservationID,
		EventID:       ev.EventID,
		UserID:        ev.UserID,
		Section:       ev.Section,
		Status:        string(ev.Status),
		SeatLabels:    seats,
		CompletedAt:   ev.Timestamp.UTC().Format(time.RFC3339),
	}
}

// Summary renders the message as one human-friendly line.
func (m ReservationCompletedMessage) Summary() string {
	return fmt.Sprintf("Reservation %s | reservation_id=%s | user_id=%s | event_id=%d | section=%q | seats=[%s]",
		strings.ToLower(m.Status), m.ReservationID, m.UserID, m.EventID, m.Section, strings.Join(m.SeatLabels, ","))
}
