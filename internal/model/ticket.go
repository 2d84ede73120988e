package model

// TicketStatus is the status of a row in the ticket catalog.
type TicketStatus string

const (
	TicketAvailable TicketStatus = "AVAILABLE"
	TicketReserved  TicketStatus = "RESERVED"
	TicketSold      TicketStatus = "SOLD"
)

// Ticket is one sellable seat of an event as kept in the relational
// catalog.  The catalog is a downstream copy; the seat inventory of the
// pipeline stays authoritative.
//
// Fields:
//  ID         – ticket.id.
//  EventID    – the event the seat is sold for.
//  SeatNumber – seat id as allocated, e.g. "A-12".
//  Status     – AVAILABLE, RESERVED or SOLD.
//  PriceCents – price in cents.
type Ticket struct {
	ID         uint64       `json:"id"`
	EventID    int64        `json:"eventId"`
	SeatNumber string       `json:"seatNumber"`
	Status     TicketStatus `json:"status"`
	PriceCents uint32       `json:"priceCents,omitempty"`
}
