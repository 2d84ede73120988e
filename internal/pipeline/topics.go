package pipeline

// Partitioned topics.  Inventory and reservation topics are keyed by
// "<eventId>-<section>", the view topic by reservation id.
const (
	TopicInventory    = "seat-inventory"
	TopicReservations = "reservations"
	TopicView         = "reservation-view"
)

// Broadcast topics, delivered to every instance.
const (
	TopicCompleted     = "reservation-completed"
	TopicSectionStatus = "section-status"
)

// Message kinds.
const (
	KindSectionInit        = "section-init"
	KindSeatEvent          = "seat-event"
	KindAllocationRequest  = "allocation-request"
	KindReservationCommand = "reservation-command"
	KindAllocationResult   = "allocation-result"
	KindCompletion         = "completion"
	KindSectionStatus      = "section-status"
)
