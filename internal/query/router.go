package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
	"github.com/iliyamo/seat-reservation-pipeline/internal/partition"
	"github.com/iliyamo/seat-reservation-pipeline/internal/store"
)

// LocalView is the view store of this instance.
type LocalView interface {
	Get(ctx context.Context, id string) (model.CompletionEvent, bool, error)
}

// Remote reads a reservation from a peer's internal endpoint.
type Remote interface {
	Fetch(ctx context.Context, peer partition.Member, id string) (model.ReservationView, error)
}

// Router sends each read to the instance owning the reservation's view
// partition.  The partition is computed with the same hash the view
// topic is written with.
type Router struct {
	dir    *partition.Directory
	local  LocalView
	remote Remote
	log    *slog.Logger
}

func NewRouter(dir *partition.Directory, local LocalView, remote Remote) *Router {
	return &Router{dir: dir, local: local, remote: remote, log: obs.Component("query-router")}
}

// QueryReservation returns the view of id from the owning instance.
func (r *Router) QueryReservation(ctx context.Context, id string) (model.ReservationView, error) {
	p, owner, err := r.dir.OwnerOfKey(id)
	if err != nil {
		return model.ReservationView{}, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if owner.ID == r.dir.Self() {
		return r.QueryLocal(ctx, id)
	}

	view, err := r.remote.Fetch(ctx, owner, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.log.Warn("remote read failed", "reservation_id", id, "partition", p, "peer", owner.ID, "error", err)
		}
		return model.ReservationView{}, err
	}
	return view, nil
}

// QueryLocal reads the local view only.  It backs the internal peer
// endpoint, which must never forward.
func (r *Router) QueryLocal(ctx context.Context, id string) (model.ReservationView, error) {
	ev, ok, err := r.local.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotInitialized):
		return model.ReservationView{}, fmt.Errorf("%w: %v", ErrNotReady, err)
	case err != nil:
		return model.ReservationView{}, fmt.Errorf("query %s: %w", id, err)
	case !ok:
		return model.ReservationView{}, ErrNotFound
	}
	return ev.View(), nil
}

// Ready reports whether reads can currently be routed.
func (r *Router) Ready() bool { return r.dir.Ready() }
