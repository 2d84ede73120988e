package model

import (
	"strconv"
)

// SeatStatus is the state of a single seat inside a section inventory.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE" // seat can be allocated
	SeatReserved  SeatStatus = "RESERVED"  // seat belongs to a confirmed reservation
)

// Valid reports whether s is one of the known seat statuses.
func (s SeatStatus) Valid() bool {
	return s == SeatAvailable || s == SeatReserved
}

// InventoryKey builds the store and partitioning key for a section of an
// event: "<eventId>-<section>".  Every producer and consumer of inventory
// records must use this function so that records land on the same shard.
func InventoryKey(eventID int64, section string) string {
	return strconv.FormatInt(eventID, 10) + "-" + section
}

// SeatInventory is the per-section seat map owned by a single shard.
//
// Fields:
//
//	EventID        – event the section belongs to.
//	Section        – section name, also the prefix of every seat id.
//	SeatStatus     – status of every known seat keyed by seat id.
//	AvailableCount – number of seats whose status is AVAILABLE.
//
// AvailableCount is only ever changed through SetStatus so that it
// always matches the number of AVAILABLE entries in SeatStatus.
type SeatInventory struct {
	EventID        int64                 `json:"eventId" cbor:"event_id"`
	Section        string                `json:"section" cbor:"section"`
	SeatStatus     map[string]SeatStatus `json:"seatStatus" cbor:"seat_status"`
	AvailableCount int                   `json:"availableCount" cbor:"available_count"`
}

// NewSeatInventory returns an empty inventory for the given section.
func NewSeatInventory(eventID int64, section string) SeatInventory {
	return SeatInventory{
		EventID:    eventID,
		Section:    section,
		SeatStatus: make(map[string]SeatStatus),
	}
}

// Key returns the inventory's store key.
func (inv SeatInventory) Key() string { return InventoryKey(inv.EventID, inv.Section) }

// SetStatus records the new status of seatID and adjusts AvailableCount
// when the seat crosses the AVAILABLE boundary.  Setting a seat to the
// status it already has leaves the counter untouched.  It reports
// whether the status actually changed.
func (inv *SeatInventory) SetStatus(seatID string, status SeatStatus) bool {
	if inv.SeatStatus == nil {
		inv.SeatStatus = make(map[string]SeatStatus)
	}
	prev, known := inv.SeatStatus[seatID]
	if known && prev == status {
		return false
	}
	inv.SeatStatus[seatID] = status

	wasAvailable := known && prev == SeatAvailable
	isAvailable := status == SeatAvailable
	switch {
	case !wasAvailable && isAvailable:
		inv.AvailableCount++
	case wasAvailable && !isAvailable:
		inv.AvailableCount--
	}
	return true
}

// CountAvailable recomputes the number of AVAILABLE seats from the seat map.
func (inv SeatInventory) CountAvailable() int {
	n := 0
	for _, st := range inv.SeatStatus {
		if st == SeatAvailable {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can hand snapshots to other
// goroutines without sharing the seat map.
func (inv SeatInventory) Clone() SeatInventory {
	out := inv
	out.SeatStatus = make(map[string]SeatStatus, len(inv.SeatStatus))
	for k, v := range inv.SeatStatus {
		out.SeatStatus[k] = v
	}
	return out
}
