// Package catalog keeps the relational ticket catalog in step with
// confirmed reservations.
package catalog

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// TicketRepo reads and updates the ticket table.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a TicketRepo bound to db.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// LockAvailableTx selects the AVAILABLE tickets among seats for eventID and
// locks them for the rest of tx.
func (r *TicketRepo) LockAvailableTx(ctx context.Context, tx *sql.Tx, eventID int64, seats []string) ([]model.Ticket, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	q := `SELECT id, event_id, seat_number, status, price_cents FROM ticket
WHERE event_id = ? AND status = ? AND seat_number IN (` + placeholders(len(seats)) + `) FOR UPDATE`
	args := make([]any, 0, len(seats)+2)
	args = append(args, eventID, string(model.TicketAvailable))
	for _, s := range seats {
		args = append(args, s)
	}
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		var status string
		if err := rows.Scan(&t.ID, &t.EventID, &t.SeatNumber, &status, &t.PriceCents); err != nil {
			return nil, err
		}
		t.Status = model.TicketStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetStatusTx updates the status of the tickets with the given ids.
func (r *TicketRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, ids []uint64, status model.TicketStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := `UPDATE ticket SET status = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(status))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByEvent returns every ticket of an event ordered by id.
func (r *TicketRepo) ListByEvent(ctx context.Context, eventID int64) ([]model.Ticket, error) {
	const q = `SELECT id, event_id, seat_number, status, price_cents FROM ticket WHERE event_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		var status string
		if err := rows.Scan(&t.ID, &t.EventID, &t.SeatNumber, &status, &t.PriceCents); err != nil {
			return nil, err
		}
		t.Status = model.TicketStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
