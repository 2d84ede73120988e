// Package availability is a best-effort pre-filter in front of the
// allocation stage.  It remembers the last known available-seat count per
// section so obviously impossible requests can be rejected without a round
// trip through the pipeline.  Counts are eventually consistent; the
// allocation stage stays authoritative.
package availability

import (
	"context"
	"sync"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
)

// Checker answers "could this section possibly satisfy seatCount seats".
// An unknown section always answers true.
type Checker interface {
	HasEnoughSeats(ctx context.Context, eventID int64, section string, seatCount int) bool
	Set(ctx context.Context, eventID int64, section string, available int)
	// Available returns the cached count; ok is false for unknown sections.
	Available(ctx context.Context, eventID int64, section string) (count int, ok bool)
}

// Memory keeps counts in a local map.
type Memory struct {
	mu     sync.RWMutex
	counts map[string]int
}

func NewMemory() *Memory { return &Memory{counts: make(map[string]int)} }

func (m *Memory) HasEnoughSeats(ctx context.Context, eventID int64, section string, seatCount int) bool {
	n, ok := m.Available(ctx, eventID, section)
	return !ok || n >= seatCount
}

func (m *Memory) Set(_ context.Context, eventID int64, section string, available int) {
	m.mu.Lock()
	m.counts[model.InventoryKey(eventID, section)] = available
	m.mu.Unlock()
}

func (m *Memory) Available(_ context.Context, eventID int64, section string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.counts[model.InventoryKey(eventID, section)]
	return n, ok
}

// NoOp never filters anything.
type NoOp struct{}

func (NoOp) HasEnoughSeats(context.Context, int64, string, int) bool { return true }
func (NoOp) Set(context.Context, int64, string, int)                 {}
func (NoOp) Available(context.Context, int64, string) (int, bool)    { return 0, false }
