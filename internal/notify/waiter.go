package notify

import (
	"sync"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// Outcome is what a waiter is resolved with.  Pending is true when the
// wait ended before the reservation was decided.
type Outcome struct {
	Pending bool
	View    model.ReservationView
}

// Waiter is a one-shot slot for the outcome of one reservation.
type Waiter struct {
	id      string
	done    chan struct{}
	once    sync.Once
	outcome Outcome

	mu        sync.Mutex
	callbacks []func()
	finished  bool
}

// NewWaiter returns an unresolved waiter for reservation id.
func NewWaiter(id string) *Waiter {
	return &Waiter{id: id, done: make(chan struct{})}
}

// ID is the reservation the waiter is for.
func (w *Waiter) ID() string { return w.id }

// Resolve sets the outcome.  Only the first call has an effect; it
// reports whether this call was the one that resolved the waiter.
func (w *Waiter) Resolve(o Outcome) bool {
	first := false
	w.once.Do(func() {
		first = true
		w.outcome = o
		close(w.done)

		w.mu.Lock()
		w.finished = true
		cbs := w.callbacks
		w.callbacks = nil
		w.mu.Unlock()
		for _, fn := range cbs {
			fn()
		}
	})
	return first
}

// Done is closed once the waiter is resolved.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Outcome returns the resolved outcome.  Only meaningful after Done.
func (w *Waiter) Outcome() Outcome {
	<-w.done
	return w.outcome
}

// OnCompletion runs fn after resolution, or right away if the waiter is
// already resolved.
func (w *Waiter) OnCompletion(fn func()) {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		fn()
		return
	}
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}
