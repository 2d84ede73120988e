package model

import (
	"strings"
	"time"
)

// ReservationCommand is what a client submits to reserve seats.  The
// reservation id is assigned by the service before the command enters the
// pipeline.
type ReservationCommand struct {
	ReservationID string    `json:"reservationId"`
	EventID       int64     `json:"eventId"`
	Section       string    `json:"section"`
	SeatCount     int       `json:"seatCount"`
	UserID        string    `json:"userId"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate checks the fields a client controls.
func (c ReservationCommand) Validate() error {
	switch {
	case c.EventID <= 0:
		return &ValidationError{Field: "eventId", Reason: "must be positive"}
	case strings.TrimSpace(c.Section) == "":
		return &ValidationError{Field: "section", Reason: "is required"}
	case c.SeatCount <= 0:
		return &ValidationError{Field: "seatCount", Reason: "must be positive"}
	case strings.TrimSpace(c.UserID) == "":
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	return nil
}

// InventoryKey is the partition key of the section this command targets.
func (c ReservationCommand) InventoryKey() string { return InventoryKey(c.EventID, c.Section) }

// AllocationRequest derives the request forwarded to the allocation stage.
func (c ReservationCommand) AllocationRequest(now time.Time) AllocationRequest {
	return AllocationRequest{
		ReservationID: c.ReservationID,
		EventID:       c.EventID,
		Section:       c.Section,
		SeatCount:     c.SeatCount,
		UserID:        c.UserID,
		Timestamp:     now,
	}
}

// SectionInit declares the seat layout of a section.  Seats are numbered
// 1..Rows*SeatsPerRow and named "<section>-<index>".
type SectionInit struct {
	EventID           int64    `json:"eventId"`
	Section           string   `json:"section"`
	Rows              int      `json:"rows"`
	SeatsPerRow       int      `json:"seatsPerRow"`
	InitiallyReserved []string `json:"initiallyReserved"`
}

// DefaultMaxSectionSeats is the default bound on Rows*SeatsPerRow.
const DefaultMaxSectionSeats = 100_000

// MaxSectionSeats bounds the size of a section layout.  The whole seat map
// of a section is held in one record.
var MaxSectionSeats = DefaultMaxSectionSeats

// Validate rejects layouts that would produce no seats or more than
// MaxSectionSeats.
func (c SectionInit) Validate() error {
	switch {
	case c.EventID <= 0:
		return &ValidationError{Field: "eventId", Reason: "must be positive"}
	case strings.TrimSpace(c.Section) == "":
		return &ValidationError{Field: "section", Reason: "is required"}
	case c.Rows <= 0:
		return &ValidationError{Field: "rows", Reason: "must be positive"}
	case c.SeatsPerRow <= 0:
		return &ValidationError{Field: "seatsPerRow", Reason: "must be positive"}
	case c.Rows > MaxSectionSeats/c.SeatsPerRow:
		return &ValidationError{Field: "rows", Reason: "layout too large"}
	}
	return nil
}

// InventoryKey is the partition key of the section being initialised.
func (c SectionInit) InventoryKey() string { return InventoryKey(c.EventID, c.Section) }

// SeatStatusEvent is a single seat status change coming from an upstream
// system (box office, manual holds, releases).
type SeatStatusEvent struct {
	EventID int64      `json:"eventId"`
	SeatID  string     `json:"seatId"`
	Section string     `json:"section"`
	Status  SeatStatus `json:"status"`
}

// Validate checks the event can be applied to an inventory.
func (e SeatStatusEvent) Validate() error {
	switch {
	case e.EventID <= 0:
		return &ValidationError{Field: "eventId", Reason: "must be positive"}
	case strings.TrimSpace(e.Section) == "":
		return &ValidationError{Field: "section", Reason: "is required"}
	case strings.TrimSpace(e.SeatID) == "":
		return &ValidationError{Field: "seatId", Reason: "is required"}
	case !e.Status.Valid():
		return &ValidationError{Field: "status", Reason: "must be AVAILABLE or RESERVED"}
	}
	return nil
}

// InventoryKey is the partition key of the section the seat belongs to.
func (e SeatStatusEvent) InventoryKey() string { return InventoryKey(e.EventID, e.Section) }

// SectionStatus is the snapshot broadcast after every inventory change so
// that availability caches on every instance can be refreshed.
type SectionStatus struct {
	EventID        int64     `json:"eventId"`
	Section        string    `json:"section"`
	AvailableCount int       `json:"availableCount"`
	TotalSeats     int       `json:"totalSeats"`
	Timestamp      time.Time `json:"timestamp"`
}

// Status summarises the inventory for broadcast.
func (inv SeatInventory) Status(now time.Time) SectionStatus {
	return SectionStatus{
		EventID:        inv.EventID,
		Section:        inv.Section,
		AvailableCount: inv.AvailableCount,
		TotalSeats:     len(inv.SeatStatus),
		Timestamp:      now,
	}
}
