package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

// Notify receives the tickets a sync moved to RESERVED.
type Notify func(eventID int64, tickets []model.Ticket)

// Syncer marks the tickets of confirmed reservations as RESERVED.
type Syncer struct {
	db     *sql.DB
	repo   *TicketRepo
	notify Notify
	log    *slog.Logger
}

// NewSyncer builds a Syncer.  notify may be nil.
func NewSyncer(db *sql.DB, notify Notify) *Syncer {
	return &Syncer{db: db, repo: NewTicketRepo(db), notify: notify, log: obs.Component("ticket-sync")}
}

// Handle is the broker handler for completion broadcasts.
func (s *Syncer) Handle(ctx context.Context, msg broker.Message) error {
	var ev model.CompletionEvent
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	_, err := s.Sync(ctx, ev)
	return err
}

// Sync applies one completion event.  Only CONFIRMED events with seats
// touch the catalog.  Tickets already RESERVED or SOLD are left alone, so
// a redelivered event updates nothing.
func (s *Syncer) Sync(ctx context.Context, ev model.CompletionEvent) ([]model.Ticket, error) {
	if ev.Status != model.StatusConfirmed {
		return nil, nil
	}
	if ev.EventID <= 0 || len(ev.AllocatedSeats) == 0 {
		s.log.Warn("skipping reservation: missing event id or seats", "reservation_id", ev.ReservationID)
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ticket sync %s: begin: %w", ev.ReservationID, err)
	}
	defer func() { _ = tx.Rollback() }()

	tickets, err := s.repo.LockAvailableTx(ctx, tx, ev.EventID, ev.AllocatedSeats)
	if err != nil {
		return nil, fmt.Errorf("ticket sync %s: select: %w", ev.ReservationID, err)
	}
	ids := make([]uint64, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	if _, err := s.repo.SetStatusTx(ctx, tx, ids, model.TicketReserved); err != nil {
		return nil, fmt.Errorf("ticket sync %s: update: %w", ev.ReservationID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ticket sync %s: commit: %w", ev.ReservationID, err)
	}

	for i := range tickets {
		tickets[i].Status = model.TicketReserved
	}
	s.log.Info("tickets synced to RESERVED", "reservation_id", ev.ReservationID, "event_id", ev.EventID, "updated", len(tickets))
	if len(tickets) > 0 && s.notify != nil {
		s.notify(ev.EventID, tickets)
	}
	return tickets, nil
}
