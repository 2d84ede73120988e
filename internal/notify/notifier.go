// Package notify bridges completion events to callers blocked on the
// outcome of a reservation.
//
// Events and registrations arrive on different goroutines in either
// order.  Two maps cover both orders: pending holds registered waiters,
// early holds outcomes nobody was waiting for yet.  Register and Resolve
// each check the other side's map again after writing their own, so an
// event landing between the first check and the insert is never lost.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

// Notifier matches completion events to waiters.
type Notifier struct {
	pending sync.Map // reservation id -> *Waiter
	early   sync.Map // reservation id -> *model.CompletionEvent
	log     *slog.Logger
}

func New() *Notifier {
	return &Notifier{log: obs.Component("notifier")}
}

// Register hands w the outcome for id as soon as it is known.  A later
// registration for the same id replaces an earlier, still pending one;
// the replaced waiter resolves on its own timeout.
func (n *Notifier) Register(id string, w *Waiter) {
	if ev, ok := n.early.LoadAndDelete(id); ok {
		w.Resolve(Outcome{View: ev.(*model.CompletionEvent).View()})
		return
	}

	n.pending.Store(id, w)

	if ev, ok := n.early.LoadAndDelete(id); ok {
		n.pending.CompareAndDelete(id, w)
		w.Resolve(Outcome{View: ev.(*model.CompletionEvent).View()})
		return
	}

	w.OnCompletion(func() { n.pending.CompareAndDelete(id, w) })
}

// Resolve delivers ev to its waiter, or parks it as an early result when
// nobody is waiting yet.
func (n *Notifier) Resolve(ev model.CompletionEvent) {
	id := ev.ReservationID
	if w, ok := n.pending.LoadAndDelete(id); ok {
		w.(*Waiter).Resolve(Outcome{View: ev.View()})
		return
	}

	parked := &ev
	n.early.Store(id, parked)

	if w, ok := n.pending.LoadAndDelete(id); ok {
		n.early.CompareAndDelete(id, parked)
		w.(*Waiter).Resolve(Outcome{View: ev.View()})
	}
}

// Await registers a waiter for id and blocks until it resolves, timeout
// elapses or ctx ends.  The last two resolve it as pending.
func (n *Notifier) Await(ctx context.Context, id string, timeout time.Duration) Outcome {
	w := NewWaiter(id)
	n.Register(id, w)
	return Wait(ctx, w, timeout)
}

// Wait blocks on a registered waiter.  A timeout or cancelled ctx resolves
// it as pending, which also deregisters it.
func Wait(ctx context.Context, w *Waiter, timeout time.Duration) Outcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.Done():
	case <-timer.C:
		w.Resolve(Outcome{Pending: true})
	case <-ctx.Done():
		w.Resolve(Outcome{Pending: true})
	}
	return w.Outcome()
}

// Handle is the broker handler for completion broadcasts.
func (n *Notifier) Handle(_ context.Context, msg broker.Message) error {
	var ev model.CompletionEvent
	if err := msg.Decode(&ev); err != nil {
		return err
	}
	n.Resolve(ev)
	return nil
}

// Sweep drops every unclaimed early result.
func (n *Notifier) Sweep() {
	n.early.Clear()
}

// RunSweeper calls Sweep every interval until ctx ends.
func (n *Notifier) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.Sweep()
			n.log.Debug("early results swept")
		}
	}
}

// PendingCount is the number of registered, unresolved waiters.
func (n *Notifier) PendingCount() int { return count(&n.pending) }

// EarlyCount is the number of parked early results.
func (n *Notifier) EarlyCount() int { return count(&n.early) }

func count(m *sync.Map) int {
	c := 0
	m.Range(func(_, _ any) bool {
		c++
		return true
	})
	return c
}
