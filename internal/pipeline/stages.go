// Package pipeline holds the stream stages that turn reservation commands
// into durable decisions.  Every stage handles the messages of one
// partition on one goroutine, which makes it the only writer of the
// records keyed into that partition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/allocation"
	"github.com/iliyamo/seat-reservation-pipeline/internal/availability"
	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/store"
)

// unknownUser is reported for completions whose reservation record is gone.
const unknownUser = "unknown"

// Publisher is the part of the broker the stages write to.
type Publisher interface {
	Publish(ctx context.Context, msg broker.Message) error
	Broadcast(ctx context.Context, msg broker.Message) error
}

func publish(ctx context.Context, p Publisher, topic, key, kind string, v any) error {
	msg, err := broker.NewMessage(topic, key, kind, v)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}

func broadcast(ctx context.Context, p Publisher, topic, kind string, v any) error {
	msg, err := broker.NewMessage(topic, "", kind, v)
	if err != nil {
		return err
	}
	if err := p.Broadcast(ctx, msg); err != nil {
		return fmt.Errorf("broadcast %s: %w", kind, err)
	}
	return nil
}

// statusEmitter refreshes the local availability cache and tells the other
// instances about the new count.  Failures only cost pre-filter accuracy,
// so they are logged and swallowed.
type statusEmitter struct {
	pub   Publisher
	avail availability.Checker
	log   *slog.Logger
	now   func() time.Time
}

func (e statusEmitter) emit(ctx context.Context, inv model.SeatInventory) {
	e.avail.Set(ctx, inv.EventID, inv.Section, inv.AvailableCount)
	if err := broadcast(ctx, e.pub, TopicSectionStatus, KindSectionStatus, inv.Status(e.now())); err != nil {
		e.log.Warn("section status broadcast failed", "key", inv.Key(), "error", err)
	}
}

// SectionInitStage writes the initial seat map of a section.
type SectionInitStage struct {
	inv    *store.InventoryStore
	status statusEmitter
	log    *slog.Logger
}

// Handle builds seats "<section>-1".."<section>-<rows*seatsPerRow>", marks
// the listed ones RESERVED and stores the record.  Invalid layouts return a
// ValidationError without writing anything.
func (s *SectionInitStage) Handle(ctx context.Context, cmd model.SectionInit) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	reserved := make(map[string]bool, len(cmd.InitiallyReserved))
	for _, id := range cmd.InitiallyReserved {
		reserved[id] = true
	}

	inv := model.NewSeatInventory(cmd.EventID, cmd.Section)
	total := cmd.Rows * cmd.SeatsPerRow
	for i := 1; i <= total; i++ {
		id := fmt.Sprintf("%s-%d", cmd.Section, i)
		if reserved[id] {
			inv.SetStatus(id, model.SeatReserved)
		} else {
			inv.SetStatus(id, model.SeatAvailable)
		}
	}
	if err := s.inv.Put(ctx, inv); err != nil {
		return fmt.Errorf("section init %s: %w", inv.Key(), err)
	}
	s.log.Info("section initialised", "key", inv.Key(), "seats", total, "available", inv.AvailableCount)
	s.status.emit(ctx, inv)
	return nil
}

// Materializer folds individual seat status events into the inventory.
type Materializer struct {
	inv    *store.InventoryStore
	status statusEmitter
}

// Handle upserts the seat, creating the section record on first sight.
// Redelivering the same status is a no-op.
func (m *Materializer) Handle(ctx context.Context, ev model.SeatStatusEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	inv, ok, err := m.inv.Get(ctx, ev.InventoryKey())
	if err != nil {
		return fmt.Errorf("materialize %s: %w", ev.InventoryKey(), err)
	}
	if !ok {
		inv = model.NewSeatInventory(ev.EventID, ev.Section)
	}
	if !inv.SetStatus(ev.SeatID, ev.Status) {
		return nil
	}
	if err := m.inv.Put(ctx, inv); err != nil {
		return fmt.Errorf("materialize %s: %w", ev.InventoryKey(), err)
	}
	m.status.emit(ctx, inv)
	return nil
}

// CommandStage records new reservations and routes them to allocation.
type CommandStage struct {
	res *store.ReservationStore
	pub Publisher
	now func() time.Time
}

// Handle writes the PENDING record and forwards an AllocationRequest keyed
// by the inventory key, so it lands on the partition that owns the
// section.  A repeated reservation id overwrites the earlier record.
func (s *CommandStage) Handle(ctx context.Context, cmd model.ReservationCommand) error {
	now := s.now()
	if err := s.res.Put(ctx, model.NewPendingReservation(cmd, now)); err != nil {
		return fmt.Errorf("command %s: %w", cmd.ReservationID, err)
	}
	return publish(ctx, s.pub, TopicInventory, cmd.InventoryKey(), KindAllocationRequest, cmd.AllocationRequest(now))
}

// AllocationStage decides requests against the section inventory.
type AllocationStage struct {
	inv    *store.InventoryStore
	pub    Publisher
	status statusEmitter
	log    *slog.Logger
	now    func() time.Time
}

// Handle runs the consecutive-seat allocation and publishes the result to
// the reservation partition of the same key.
func (s *AllocationStage) Handle(ctx context.Context, req model.AllocationRequest) error {
	key := model.InventoryKey(req.EventID, req.Section)
	inv, ok, err := s.inv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("allocate %s: %w", req.ReservationID, err)
	}

	var res model.AllocationResult
	if ok {
		res = allocation.Allocate(&inv, req)
	} else {
		res = allocation.Allocate(nil, req)
	}
	res.Timestamp = s.now()

	if res.Success {
		if err := s.inv.Put(ctx, inv); err != nil {
			return fmt.Errorf("allocate %s: %w", req.ReservationID, err)
		}
	}
	s.log.Debug("allocation decided", "reservation_id", req.ReservationID, "key", key, "success", res.Success, "seats", res.AllocatedSeats)

	if err := publish(ctx, s.pub, TopicReservations, key, KindAllocationResult, res); err != nil {
		return err
	}
	if ok {
		s.status.emit(ctx, inv)
	}
	return nil
}

// CompletionStage finalizes reservations and emits their outcome.
type CompletionStage struct {
	res *store.ReservationStore
	pub Publisher
	log *slog.Logger
	now func() time.Time
}

// Handle applies the allocation result.  A reservation that is already
// final is left unchanged and its stored outcome is emitted again; a
// missing record still yields an event built from the result alone.
func (s *CompletionStage) Handle(ctx context.Context, result model.AllocationResult) error {
	now := s.now()
	ev := model.CompletionEvent{ReservationID: result.ReservationID, Timestamp: now}

	r, ok, err := s.res.Get(ctx, result.ReservationID)
	if err != nil {
		return fmt.Errorf("complete %s: %w", result.ReservationID, err)
	}
	if ok {
		switch err := r.Complete(result, now); {
		case err == nil:
			if err := s.res.Put(ctx, r); err != nil {
				return fmt.Errorf("complete %s: %w", result.ReservationID, err)
			}
		case errors.Is(err, model.ErrAlreadyFinal):
			s.log.Info("duplicate allocation result ignored", "reservation_id", r.ReservationID, "status", r.Status)
		default:
			return err
		}
		ev.EventID = r.EventID
		ev.UserID = r.UserID
		ev.Status = r.Status
		ev.Section = r.Section
		ev.SeatCount = r.SeatCount
		ev.AllocatedSeats = r.AllocatedSeats
	} else {
		s.log.Warn("allocation result for unknown reservation", "reservation_id", result.ReservationID)
		ev.UserID = unknownUser
		ev.Status = model.StatusRejected
		ev.AllocatedSeats = []string{}
		if result.Success {
			ev.Status = model.StatusConfirmed
			ev.AllocatedSeats = result.AllocatedSeats
			ev.SeatCount = len(result.AllocatedSeats)
		}
	}
	if ev.Status == model.StatusRejected {
		ev.FailureReason = result.FailureReason
	}

	if err := publish(ctx, s.pub, TopicView, ev.ReservationID, KindCompletion, ev); err != nil {
		return err
	}
	return broadcast(ctx, s.pub, TopicCompleted, KindCompletion, ev)
}

// ViewMaterializer maintains the queryable reservation view.
type ViewMaterializer struct {
	views *store.ViewStore
}

// Handle upserts the view entry for the event's reservation.
func (v *ViewMaterializer) Handle(ctx context.Context, ev model.CompletionEvent) error {
	if err := v.views.Put(ctx, ev); err != nil {
		return fmt.Errorf("view %s: %w", ev.ReservationID, err)
	}
	return nil
}
