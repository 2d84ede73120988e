package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/allocation"
	"github.com/iliyamo/seat-reservation-pipeline/internal/availability"
	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/notify"
	"github.com/iliyamo/seat-reservation-pipeline/internal/partition"
	"github.com/iliyamo/seat-reservation-pipeline/internal/pipeline"
	"github.com/iliyamo/seat-reservation-pipeline/internal/query"
	"github.com/iliyamo/seat-reservation-pipeline/internal/store"
)

type fixture struct {
	b     *broker.Memory
	avail *availability.Memory
	n     *notify.Notifier
	svc   *ReservationService
}

func newFixture(t *testing.T, wait time.Duration) *fixture {
	t.Helper()
	b := broker.NewMemory(4)
	dir := partition.NewDirectory("solo", 4, []partition.Member{{ID: "solo"}})
	dir.SetReady(true)
	avail := availability.NewMemory()
	p := pipeline.New(b, dir, store.NewMemoryKV(), avail, nil)
	n := notify.New()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})
	if err := b.SubscribeBroadcast(ctx, pipeline.TopicCompleted, n.Handle); err != nil {
		t.Fatalf("SubscribeBroadcast: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	router := query.NewRouter(dir, p.Views(), nil)
	return &fixture{b: b, avail: avail, n: n, svc: NewReservationService(b, avail, router, n, wait)}
}

func (f *fixture) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !f.b.WaitIdle(ctx) {
		t.Fatalf("pipeline did not settle")
	}
}

func (f *fixture) section(t *testing.T, eventID int64, section string, rows, perRow int) {
	t.Helper()
	err := f.svc.InitSection(context.Background(), model.SectionInit{EventID: eventID, Section: section, Rows: rows, SeatsPerRow: perRow})
	if err != nil {
		t.Fatalf("InitSection: %v", err)
	}
	f.idle(t)
}

func TestCreateAndAwaitConfirmed(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.section(t, 1, "A", 1, 10)

	res, err := f.svc.CreateReservation(context.Background(), model.ReservationCommand{EventID: 1, Section: "A", SeatCount: 3, UserID: "u1"})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if res.ReservationID == "" || res.Status != "" {
		t.Fatalf("result = %+v", res)
	}

	view, pending, err := f.svc.AwaitReservation(context.Background(), res.ReservationID)
	if err != nil || pending {
		t.Fatalf("AwaitReservation: pending=%v err=%v", pending, err)
	}
	if view.Status != model.StatusConfirmed || strings.Join(view.AllocatedSeats, ",") != "A-1,A-2,A-3" {
		t.Fatalf("view = %+v", view)
	}
	if view.UserID != "u1" {
		t.Fatalf("user = %q", view.UserID)
	}

	f.idle(t)
	if n, ok := f.svc.SectionAvailability(context.Background(), 1, "A"); !ok || n != 7 {
		t.Fatalf("availability = %d,%v want 7,true", n, ok)
	}
	// already decided: answered from the view without a waiter
	again, pending, err := f.svc.AwaitReservation(context.Background(), res.ReservationID)
	if err != nil || pending || again.Status != model.StatusConfirmed {
		t.Fatalf("second await = %+v pending=%v err=%v", again, pending, err)
	}
	if f.n.PendingCount() != 0 {
		t.Fatalf("waiters leaked: %d", f.n.PendingCount())
	}
}

func TestCreateRejectedByPreFilter(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.section(t, 2, "B", 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan model.CompletionEvent, 1)
	err := f.b.SubscribeBroadcast(ctx, pipeline.TopicCompleted, func(_ context.Context, msg broker.Message) error {
		var ev model.CompletionEvent
		if err := msg.Decode(&ev); err != nil {
			return err
		}
		events <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeBroadcast: %v", err)
	}

	res, err := f.svc.CreateReservation(context.Background(), model.ReservationCommand{EventID: 2, Section: "B", SeatCount: 5, UserID: "u"})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if res.Status != model.StatusRejected {
		t.Fatalf("status = %q, want REJECTED", res.Status)
	}
	view, pending, err := f.svc.AwaitReservation(context.Background(), res.ReservationID)
	if err != nil || pending {
		t.Fatalf("AwaitReservation: pending=%v err=%v", pending, err)
	}
	if view.Status != model.StatusRejected || len(view.AllocatedSeats) != 0 || view.SeatCount != 5 {
		t.Fatalf("view = %+v", view)
	}
	select {
	case ev := <-events:
		if ev.FailureReason != allocation.FailureReason("B") {
			t.Fatalf("failure reason = %q", ev.FailureReason)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no completion broadcast")
	}
}

func TestCreateRejectedByAllocation(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	// unknown to the pre-filter, so the request reaches allocation
	res, err := f.svc.CreateReservation(context.Background(), model.ReservationCommand{EventID: 3, Section: "C", SeatCount: 1, UserID: "u"})
	if err != nil {
		t.Fatalf("CreateReservation: %v", err)
	}
	if res.Status != "" {
		t.Fatalf("status = %q, want undecided", res.Status)
	}
	view, pending, err := f.svc.AwaitReservation(context.Background(), res.ReservationID)
	if err != nil || pending || view.Status != model.StatusRejected {
		t.Fatalf("view = %+v pending=%v err=%v", view, pending, err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.svc.CreateReservation(context.Background(), model.ReservationCommand{EventID: 1, Section: "A", SeatCount: 0, UserID: "u"})
	var ve *model.ValidationError
	if !errors.As(err, &ve) || ve.Field != "seatCount" {
		t.Fatalf("err = %v, want seatCount validation error", err)
	}
	if err := f.svc.InitSection(context.Background(), model.SectionInit{EventID: 1, Section: "A"}); !errors.As(err, &ve) {
		t.Fatalf("InitSection err = %v", err)
	}
	if err := f.svc.PublishSeatEvent(context.Background(), model.SeatStatusEvent{}); !errors.As(err, &ve) {
		t.Fatalf("PublishSeatEvent err = %v", err)
	}
}

func TestAwaitUnknownTimesOutPending(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	view, pending, err := f.svc.AwaitReservation(context.Background(), "nobody")
	if err != nil || !pending {
		t.Fatalf("pending=%v err=%v", pending, err)
	}
	if view.ReservationID != "nobody" || view.Status != model.StatusPending {
		t.Fatalf("view = %+v", view)
	}
	if f.n.PendingCount() != 0 {
		t.Fatalf("timed out waiter still registered")
	}
}

func TestPublishSeatEventUpdatesAvailability(t *testing.T) {
	f := newFixture(t, time.Second)
	f.section(t, 4, "D", 1, 3)
	err := f.svc.PublishSeatEvent(context.Background(), model.SeatStatusEvent{EventID: 4, Section: "D", SeatID: "D-2", Status: model.SeatReserved})
	if err != nil {
		t.Fatalf("PublishSeatEvent: %v", err)
	}
	f.idle(t)
	if n, ok := f.svc.SectionAvailability(context.Background(), 4, "D"); !ok || n != 2 {
		t.Fatalf("availability = %d,%v want 2,true", n, ok)
	}
}

type failingQuerier struct{ err error }

func (q failingQuerier) QueryReservation(context.Context, string) (model.ReservationView, error) {
	return model.ReservationView{}, q.err
}

func TestAwaitSurfacesRemoteFailure(t *testing.T) {
	svc := NewReservationService(broker.NewMemory(1), nil, failingQuerier{query.ErrRemoteUnavailable}, notify.New(), time.Second)
	if _, _, err := svc.AwaitReservation(context.Background(), "x"); !errors.Is(err, query.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestAwaitTreatsNotReadyAsNotYet(t *testing.T) {
	n := notify.New()
	svc := NewReservationService(broker.NewMemory(1), nil, failingQuerier{query.ErrNotReady}, n, time.Second)
	go func() {
		time.Sleep(20 * time.Millisecond)
		n.Resolve(model.CompletionEvent{ReservationID: "x", Status: model.StatusConfirmed, AllocatedSeats: []string{"A-1"}})
	}()
	view, pending, err := svc.AwaitReservation(context.Background(), "x")
	if err != nil || pending || view.Status != model.StatusConfirmed {
		t.Fatalf("view = %+v pending=%v err=%v", view, pending, err)
	}
}
