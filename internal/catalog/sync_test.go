package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

var (
	selectAvailable = regexp.QuoteMeta("SELECT id, event_id, seat_number, status, price_cents FROM ticket")
	updateStatus    = regexp.QuoteMeta("UPDATE ticket SET status = ? WHERE id IN (?, ?)")
)

func confirmed(seats ...string) model.CompletionEvent {
	return model.CompletionEvent{ReservationID: "r1", EventID: 7, Status: model.StatusConfirmed, Section: "A", AllocatedSeats: seats}
}

func TestSyncMarksAvailableTicketsReserved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(selectAvailable).
		WithArgs(int64(7), "AVAILABLE", "A-1", "A-2", "A-3").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "seat_number", "status", "price_cents"}).
			AddRow(11, 7, "A-1", "AVAILABLE", 5000).
			AddRow(12, 7, "A-2", "AVAILABLE", 5000))
	mock.ExpectExec(updateStatus).
		WithArgs("RESERVED", int64(11), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	var notified []model.Ticket
	s := NewSyncer(db, func(eventID int64, tickets []model.Ticket) {
		if eventID != 7 {
			t.Errorf("notify event = %d", eventID)
		}
		notified = tickets
	})
	got, err := s.Sync(context.Background(), confirmed("A-1", "A-2", "A-3"))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(got) != 2 || got[0].Status != model.TicketReserved || got[1].SeatNumber != "A-2" {
		t.Fatalf("tickets = %+v", got)
	}
	if len(notified) != 2 {
		t.Fatalf("notified = %+v", notified)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncNothingAvailableSkipsUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(selectAvailable).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "seat_number", "status", "price_cents"}))
	mock.ExpectCommit()

	called := false
	s := NewSyncer(db, func(int64, []model.Ticket) { called = true })
	got, err := s.Sync(context.Background(), confirmed("A-1"))
	if err != nil || len(got) != 0 {
		t.Fatalf("Sync = %v, %v", got, err)
	}
	if called {
		t.Fatalf("notify called with no updates")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSyncIgnoresRejectedAndEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	s := NewSyncer(db, nil)
	rejected := confirmed("A-1")
	rejected.Status = model.StatusRejected
	for _, ev := range []model.CompletionEvent{rejected, confirmed()} {
		if _, err := s.Sync(context.Background(), ev); err != nil {
			t.Fatalf("Sync(%+v): %v", ev, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}

func TestSyncRollsBackOnUpdateError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(selectAvailable).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "seat_number", "status", "price_cents"}).
			AddRow(11, 7, "A-1", "AVAILABLE", 5000).
			AddRow(12, 7, "A-2", "AVAILABLE", 5000))
	mock.ExpectExec(updateStatus).WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	s := NewSyncer(db, nil)
	if _, err := s.Sync(context.Background(), confirmed("A-1", "A-2")); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandleDecodesBroadcast(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	ev := confirmed("A-1")
	ev.Status = model.StatusRejected
	msg, err := broker.NewMessage("reservation-completed", "", "completion", ev)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := NewSyncer(db, nil).Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}

func TestListByEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM ticket WHERE event_id = ? ORDER BY id")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "seat_number", "status", "price_cents"}).
			AddRow(1, 7, "A-1", "RESERVED", 100).
			AddRow(2, 7, "A-2", "AVAILABLE", 100))

	got, err := NewTicketRepo(db).ListByEvent(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListByEvent: %v", err)
	}
	if len(got) != 2 || got[0].Status != model.TicketReserved || got[1].PriceCents != 100 {
		t.Fatalf("tickets = %+v", got)
	}
}
