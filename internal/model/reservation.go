package model

import (
	"errors"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusRejected  ReservationStatus = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s ReservationStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// ErrAlreadyFinal is returned when a terminal reservation is asked to
// transition again.  Completion treats it as a redelivery, not a failure.
var ErrAlreadyFinal = errors.New("reservation already final")

// Reservation is the authoritative lifecycle record of one reservation.
// It is created PENDING by the command stage and finalized exactly once
// by the completion stage.
type Reservation struct {
	ReservationID  string            `json:"reservationId" cbor:"reservation_id"`
	EventID        int64             `json:"eventId" cbor:"event_id"`
	Section        string            `json:"section" cbor:"section"`
	SeatCount      int               `json:"seatCount" cbor:"seat_count"`
	UserID         string            `json:"userId" cbor:"user_id"`
	Status         ReservationStatus `json:"status" cbor:"status"`
	AllocatedSeats []string          `json:"allocatedSeats" cbor:"allocated_seats"`
	CreatedAt      time.Time         `json:"createdAt" cbor:"created_at"`
	UpdatedAt      time.Time         `json:"updatedAt" cbor:"updated_at"`
}

// NewPendingReservation builds the PENDING record for a command.
func NewPendingReservation(cmd ReservationCommand, now time.Time) Reservation {
	return Reservation{
		ReservationID:  cmd.ReservationID,
		EventID:        cmd.EventID,
		Section:        cmd.Section,
		SeatCount:      cmd.SeatCount,
		UserID:         cmd.UserID,
		Status:         StatusPending,
		AllocatedSeats: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Complete applies an allocation result.  Success moves the reservation
// to CONFIRMED with the allocated seats; failure moves it to REJECTED
// with no seats.  A reservation that is already terminal is left as is
// and ErrAlreadyFinal is returned.
func (r *Reservation) Complete(res AllocationResult, now time.Time) error {
	if r.Status.Terminal() {
		return ErrAlreadyFinal
	}
	if res.Success {
		r.Status = StatusConfirmed
		r.AllocatedSeats = append([]string(nil), res.AllocatedSeats...)
	} else {
		r.Status = StatusRejected
		r.AllocatedSeats = []string{}
	}
	r.UpdatedAt = now
	return nil
}

// AllocationRequest carries everything the allocation stage needs.  It is
// keyed by the inventory key so that it reaches the shard owning the
// section.
type AllocationRequest struct {
	ReservationID string    `json:"reservationId"`
	EventID       int64     `json:"eventId"`
	Section       string    `json:"section"`
	SeatCount     int       `json:"seatCount"`
	UserID        string    `json:"userId"`
	Timestamp     time.Time `json:"timestamp"`
}

// AllocationResult is the allocation stage's decision for one request.
type AllocationResult struct {
	ReservationID  string    `json:"reservationId"`
	Success        bool      `json:"success"`
	AllocatedSeats []string  `json:"allocatedSeats"`
	FailureReason  string    `json:"failureReason,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// CompletionEvent is the durable outcome of a reservation.  It is
// broadcast to subscribers and materialized into the queryable view.
type CompletionEvent struct {
	ReservationID  string            `json:"reservationId" cbor:"reservation_id"`
	EventID        int64             `json:"eventId" cbor:"event_id"`
	UserID         string            `json:"userId" cbor:"user_id"`
	Status         ReservationStatus `json:"status" cbor:"status"`
	Section        string            `json:"section" cbor:"section"`
	SeatCount      int               `json:"seatCount" cbor:"seat_count"`
	AllocatedSeats []string          `json:"allocatedSeats" cbor:"allocated_seats"`
	FailureReason  string            `json:"failureReason,omitempty" cbor:"failure_reason,omitempty"`
	Timestamp      time.Time         `json:"timestamp" cbor:"timestamp"`
}

// ReservationView is the read shape returned by the query API and by the
// peer-to-peer internal endpoint.
type ReservationView struct {
	ReservationID  string            `json:"reservationId"`
	EventID        int64             `json:"eventId"`
	Section        string            `json:"section"`
	SeatCount      int               `json:"seatCount"`
	UserID         string            `json:"userId"`
	Status         ReservationStatus `json:"status"`
	AllocatedSeats []string          `json:"allocatedSeats"`
	DecidedAt      time.Time         `json:"decidedAt"`
}

// View converts a completion event into the read shape.
func (e CompletionEvent) View() ReservationView {
	seats := e.AllocatedSeats
	if seats == nil {
		seats = []string{}
	}
	return ReservationView{
		ReservationID:  e.ReservationID,
		EventID:        e.EventID,
		Section:        e.Section,
		SeatCount:      e.SeatCount,
		UserID:         e.UserID,
		Status:         e.Status,
		AllocatedSeats: seats,
		DecidedAt:      e.Timestamp,
	}
}
