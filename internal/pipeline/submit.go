package pipeline

import (
	"context"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// SubmitReservation appends a reservation command to the partition owning
// its section.
func SubmitReservation(ctx context.Context, pub Publisher, cmd model.ReservationCommand) error {
	return publish(ctx, pub, TopicReservations, cmd.InventoryKey(), KindReservationCommand, cmd)
}

// SubmitSectionInit appends a section layout to the inventory topic.
func SubmitSectionInit(ctx context.Context, pub Publisher, cmd model.SectionInit) error {
	return publish(ctx, pub, TopicInventory, cmd.InventoryKey(), KindSectionInit, cmd)
}

// SubmitSeatEvent appends a seat status change to the inventory topic.
func SubmitSeatEvent(ctx context.Context, pub Publisher, ev model.SeatStatusEvent) error {
	return publish(ctx, pub, TopicInventory, ev.InventoryKey(), KindSeatEvent, ev)
}

// EmitCompletion publishes an outcome decided outside the pipeline (a
// pre-filter rejection) the same way the completion stage does: view
// partition first, then the broadcast.
func EmitCompletion(ctx context.Context, pub Publisher, ev model.CompletionEvent) error {
	if err := publish(ctx, pub, TopicView, ev.ReservationID, KindCompletion, ev); err != nil {
		return err
	}
	return broadcast(ctx, pub, TopicCompleted, KindCompletion, ev)
}
