package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/seat-reservation-pipeline/internal/broker"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

func confirmed(id string) model.CompletionEvent {
	return model.CompletionEvent{ReservationID: id, Status: model.StatusConfirmed, AllocatedSeats: []string{"A-1"}}
}

func TestEarlyResultIsClaimedByLaterRegister(t *testing.T) {
	n := New()
	n.Resolve(confirmed("x"))
	if n.EarlyCount() != 1 {
		t.Fatalf("early results = %d, want 1", n.EarlyCount())
	}

	w := NewWaiter("x")
	n.Register("x", w)
	select {
	case <-w.Done():
	default:
		t.Fatalf("waiter not resolved from early result")
	}
	if o := w.Outcome(); o.Pending || o.View.Status != model.StatusConfirmed {
		t.Fatalf("outcome = %+v", o)
	}
	if n.EarlyCount() != 0 || n.PendingCount() != 0 {
		t.Fatalf("maps not empty: early=%d pending=%d", n.EarlyCount(), n.PendingCount())
	}
}

func TestResolveAfterRegister(t *testing.T) {
	n := New()
	w := NewWaiter("y")
	n.Register("y", w)
	if n.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", n.PendingCount())
	}
	n.Resolve(confirmed("y"))
	if o := w.Outcome(); o.View.ReservationID != "y" {
		t.Fatalf("outcome = %+v", o)
	}
	if n.PendingCount() != 0 || n.EarlyCount() != 0 {
		t.Fatalf("maps not empty: early=%d pending=%d", n.EarlyCount(), n.PendingCount())
	}
}

func TestConcurrentRegisterResolveExactlyOnce(t *testing.T) {
	n := New()
	const rounds = 2000

	var resolvedTwice atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("r%d", i)
		w := NewWaiter(id)
		var hits atomic.Int32
		w.OnCompletion(func() { hits.Add(1) })

		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			n.Register(id, w)
		}()
		go func() {
			defer wg.Done()
			<-start
			n.Resolve(confirmed(id))
		}()
		close(start)
		wg.Wait()

		select {
		case <-w.Done():
		case <-time.After(time.Second):
			t.Fatalf("%s: waiter lost the event", id)
		}
		if w.Outcome().Pending {
			t.Fatalf("%s: resolved as pending", id)
		}
		if hits.Load() != 1 {
			resolvedTwice.Add(1)
		}
	}
	if resolvedTwice.Load() != 0 {
		t.Fatalf("%d waiters completed more than once", resolvedTwice.Load())
	}
	if n.PendingCount() != 0 {
		t.Fatalf("pending leaked: %d", n.PendingCount())
	}
}

func TestWaiterResolvesOnce(t *testing.T) {
	w := NewWaiter("z")
	if !w.Resolve(Outcome{Pending: true}) {
		t.Fatalf("first Resolve returned false")
	}
	if w.Resolve(Outcome{View: confirmed("z").View()}) {
		t.Fatalf("second Resolve returned true")
	}
	if !w.Outcome().Pending {
		t.Fatalf("outcome overwritten")
	}
	ran := false
	w.OnCompletion(func() { ran = true })
	if !ran {
		t.Fatalf("callback on resolved waiter did not run")
	}
}

func TestAwaitTimesOutAsPendingAndDeregisters(t *testing.T) {
	n := New()
	o := n.Await(context.Background(), "slow", 20*time.Millisecond)
	if !o.Pending {
		t.Fatalf("outcome = %+v, want pending", o)
	}
	if n.PendingCount() != 0 {
		t.Fatalf("timed out waiter still registered")
	}

	// a late event now parks as an early result instead of hitting a stale waiter
	n.Resolve(confirmed("slow"))
	if n.EarlyCount() != 1 {
		t.Fatalf("early = %d, want 1", n.EarlyCount())
	}
}

func TestAwaitReceivesEvent(t *testing.T) {
	n := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		n.Resolve(confirmed("fast"))
	}()
	o := n.Await(context.Background(), "fast", 5*time.Second)
	if o.Pending || o.View.ReservationID != "fast" {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestSweepClearsEarlyResults(t *testing.T) {
	n := New()
	for i := 0; i < 10; i++ {
		n.Resolve(confirmed(fmt.Sprint(i)))
	}
	n.Sweep()
	if n.EarlyCount() != 0 {
		t.Fatalf("early = %d after sweep", n.EarlyCount())
	}
}

func TestRunSweeper(t *testing.T) {
	n := New()
	n.Resolve(confirmed("a"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for n.EarlyCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if n.EarlyCount() != 0 {
		t.Fatalf("sweeper did not clear early results")
	}
}

func TestHandleDecodesBroadcast(t *testing.T) {
	n := New()
	msg, err := broker.NewMessage("reservation-completed", "", "completion", confirmed("m"))
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := n.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if n.EarlyCount() != 1 {
		t.Fatalf("event not parked")
	}
}
