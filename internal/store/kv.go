// Package store holds the shard-local durable state of the pipeline: the
// seat inventory, the reservation lifecycle records and the queryable
// reservation view.  Each record is written only by the worker owning its
// partition; readers may be any goroutine.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotInitialized is returned by read paths while a store has not
// finished warming up.  Handlers should translate this into an HTTP 503.
var ErrNotInitialized = errors.New("store not initialized")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// KV is a namespaced byte store.  Values are opaque; the typed stores in
// this package encode them with the codec package.
type KV interface {
	Get(ctx context.Context, ns, key string) ([]byte, bool, error)
	Put(ctx context.Context, ns, key string, value []byte) error
	// Scan visits every entry of ns in ascending key order.  Returning
	// an error from fn stops the scan and is returned as-is.
	Scan(ctx context.Context, ns string, fn func(key string, value []byte) error) error
	Close() error
}

// MemoryKV is a KV held in process memory.  It is used by tests and by
// single-node deployments that accept losing state on restart.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string]map[string][]byte
	closed bool
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Put(_ context.Context, ns, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[ns] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Scan(ctx context.Context, ns string, fn func(key string, value []byte) error) error {
	// copy under the lock so fn may call back into the store
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.data[ns]))
	vals := make(map[string][]byte, len(m.data[ns]))
	for k, v := range m.data[ns] {
		keys = append(keys, k)
		vals[k] = append([]byte(nil), v...)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, vals[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
