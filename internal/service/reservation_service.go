// Package service holds the request-side operations behind the HTTP API:
// accepting commands into the pipeline and reading outcomes back.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-reservation-pipeline/internal/allocation"
	"github.com/iliyamo/seat-reservation-pipeline/internal/availability"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/notify"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
	"github.com/iliyamo/seat-reservation-pipeline/internal/pipeline"
	"github.com/iliyamo/seat-reservation-pipeline/internal/query"
)

// Querier routes reservation reads to the owning instance.
type Querier interface {
	QueryReservation(ctx context.Context, id string) (model.ReservationView, error)
}

// CreateResult is returned by CreateReservation.  Status is empty while
// the reservation is being decided and REJECTED when the availability
// pre-filter turned it down on the spot.
type CreateResult struct {
	ReservationID string
	Status        model.ReservationStatus
}

// ReservationService is used by the HTTP handlers.
type ReservationService struct {
	pub         pipeline.Publisher
	avail       availability.Checker
	querier     Querier
	notifier    *notify.Notifier
	waitTimeout time.Duration
	now         func() time.Time
	newID       func() string
	log         *slog.Logger
}

// NewReservationService wires the service.  waitTimeout <= 0 means 30s.
func NewReservationService(pub pipeline.Publisher, avail availability.Checker, querier Querier, notifier *notify.Notifier, waitTimeout time.Duration) *ReservationService {
	if avail == nil {
		avail = availability.NoOp{}
	}
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &ReservationService{
		pub:         pub,
		avail:       avail,
		querier:     querier,
		notifier:    notifier,
		waitTimeout: waitTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		log:         obs.Component("reservation-service"),
	}
}

// CreateReservation assigns an id and enqueues the command.  It never waits
// for the allocation.  When the pre-filter knows the section cannot hold
// the request, a REJECTED outcome is published immediately instead.
func (s *ReservationService) CreateReservation(ctx context.Context, cmd model.ReservationCommand) (CreateResult, error) {
	if err := cmd.Validate(); err != nil {
		return CreateResult{}, err
	}
	cmd.ReservationID = s.newID()
	cmd.Timestamp = s.now()

	if !s.avail.HasEnoughSeats(ctx, cmd.EventID, cmd.Section, cmd.SeatCount) {
		ev := model.CompletionEvent{
			ReservationID:  cmd.ReservationID,
			EventID:        cmd.EventID,
			UserID:         cmd.UserID,
			Status:         model.StatusRejected,
			Section:        cmd.Section,
			SeatCount:      cmd.SeatCount,
			AllocatedSeats: []string{},
			FailureReason:  allocation.FailureReason(cmd.Section),
			Timestamp:      cmd.Timestamp,
		}
		if err := pipeline.EmitCompletion(ctx, s.pub, ev); err != nil {
			return CreateResult{}, err
		}
		s.log.Info("reservation rejected by pre-filter", "reservation_id", cmd.ReservationID, "key", cmd.InventoryKey(), "seat_count", cmd.SeatCount)
		return CreateResult{ReservationID: cmd.ReservationID, Status: model.StatusRejected}, nil
	}

	if err := pipeline.SubmitReservation(ctx, s.pub, cmd); err != nil {
		return CreateResult{}, err
	}
	s.log.Debug("reservation submitted", "reservation_id", cmd.ReservationID, "key", cmd.InventoryKey())
	return CreateResult{ReservationID: cmd.ReservationID}, nil
}

// GetReservation reads the current view without waiting.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (model.ReservationView, error) {
	return s.querier.QueryReservation(ctx, id)
}

// AwaitReservation returns the decided reservation, waiting up to the
// configured timeout.  pending is true when the wait ran out first.
//
// The view is read, then a waiter is registered, then the view is read
// again, so an outcome materialized between the first read and the
// registration is still seen.
func (s *ReservationService) AwaitReservation(ctx context.Context, id string) (view model.ReservationView, pending bool, err error) {
	if v, done, err := s.readDecided(ctx, id); err != nil || done {
		return v, false, err
	}

	w := notify.NewWaiter(id)
	s.notifier.Register(id, w)

	if v, done, err := s.readDecided(ctx, id); err != nil || done {
		w.Resolve(notify.Outcome{View: v})
		return v, false, err
	}

	o := notify.Wait(ctx, w, s.waitTimeout)
	if o.Pending {
		return model.ReservationView{ReservationID: id, Status: model.StatusPending}, true, nil
	}
	return o.View, false, nil
}

// readDecided reports a terminal view as done.  NotFound and NotReady mean
// "not yet" while waiting; other errors end the wait.
func (s *ReservationService) readDecided(ctx context.Context, id string) (model.ReservationView, bool, error) {
	v, err := s.querier.QueryReservation(ctx, id)
	switch {
	case err == nil:
		return v, v.Status.Terminal(), nil
	case errors.Is(err, query.ErrNotFound), errors.Is(err, query.ErrNotReady):
		return model.ReservationView{}, false, nil
	}
	return model.ReservationView{}, false, err
}

// InitSection enqueues a section layout.
func (s *ReservationService) InitSection(ctx context.Context, cmd model.SectionInit) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return pipeline.SubmitSectionInit(ctx, s.pub, cmd)
}

// PublishSeatEvent enqueues a single seat status change.
func (s *ReservationService) PublishSeatEvent(ctx context.Context, ev model.SeatStatusEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return pipeline.SubmitSeatEvent(ctx, s.pub, ev)
}

// SectionAvailability is the pre-filter's last known count for a section.
func (s *ReservationService) SectionAvailability(ctx context.Context, eventID int64, section string) (int, bool) {
	return s.avail.Available(ctx, eventID, section)
}
