package store

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/iliyamo/seat-reservation-pipeline/internal/codec"
	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// Namespaces inside the KV.
const (
	nsInventory    = "seat-inventory"
	nsReservations = "reservations"
	nsView         = "reservation-view"
)

func getRecord[T any](ctx context.Context, kv KV, ns, key string) (T, bool, error) {
	var zero T
	data, ok, err := kv.Get(ctx, ns, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := codec.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("store: decode %s/%s: %w", ns, key, err)
	}
	return v, true, nil
}

func putRecord(ctx context.Context, kv KV, ns, key string, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", ns, key, err)
	}
	return kv.Put(ctx, ns, key, data)
}

// InventoryStore holds one SeatInventory per "<eventId>-<section>" key.
// Records are never deleted.
type InventoryStore struct{ kv KV }

func NewInventoryStore(kv KV) *InventoryStore { return &InventoryStore{kv: kv} }

func (s *InventoryStore) Get(ctx context.Context, key string) (model.SeatInventory, bool, error) {
	inv, ok, err := getRecord[model.SeatInventory](ctx, s.kv, nsInventory, key)
	if ok && inv.SeatStatus == nil {
		inv.SeatStatus = make(map[string]model.SeatStatus)
	}
	return inv, ok, err
}

func (s *InventoryStore) Put(ctx context.Context, inv model.SeatInventory) error {
	return putRecord(ctx, s.kv, nsInventory, inv.Key(), inv)
}

// All visits every stored inventory in key order.
func (s *InventoryStore) All(ctx context.Context, fn func(model.SeatInventory) error) error {
	return s.kv.Scan(ctx, nsInventory, func(key string, value []byte) error {
		var inv model.SeatInventory
		if err := codec.Unmarshal(value, &inv); err != nil {
			return fmt.Errorf("store: decode %s/%s: %w", nsInventory, key, err)
		}
		return fn(inv)
	})
}

// ReservationStore holds the authoritative Reservation per reservation id.
type ReservationStore struct{ kv KV }

func NewReservationStore(kv KV) *ReservationStore { return &ReservationStore{kv: kv} }

func (s *ReservationStore) Get(ctx context.Context, id string) (model.Reservation, bool, error) {
	return getRecord[model.Reservation](ctx, s.kv, nsReservations, id)
}

func (s *ReservationStore) Put(ctx context.Context, r model.Reservation) error {
	return putRecord(ctx, s.kv, nsReservations, r.ReservationID, r)
}

// ViewStore is the queryable materialization of completion events, keyed
// by reservation id.  Reads fail with ErrNotInitialized until MarkReady
// is called.
type ViewStore struct {
	kv    KV
	ready atomic.Bool
}

func NewViewStore(kv KV) *ViewStore { return &ViewStore{kv: kv} }

// MarkReady opens the store for queries.
func (s *ViewStore) MarkReady() { s.ready.Store(true) }

// Ready reports whether queries are served.
func (s *ViewStore) Ready() bool { return s.ready.Load() }

// Get returns the latest completion event for id.
func (s *ViewStore) Get(ctx context.Context, id string) (model.CompletionEvent, bool, error) {
	if !s.ready.Load() {
		return model.CompletionEvent{}, false, ErrNotInitialized
	}
	return getRecord[model.CompletionEvent](ctx, s.kv, nsView, id)
}

// Put upserts the view entry.  Writes are accepted before MarkReady so the
// view can be rebuilt during warm-up.
func (s *ViewStore) Put(ctx context.Context, ev model.CompletionEvent) error {
	return putRecord(ctx, s.kv, nsView, ev.ReservationID, ev)
}
