// Package partition decides which shard a key belongs to and which cluster
// member owns that shard.  Every producer, consumer and query path in the
// service uses For, so a key always hashes to the same partition no
// matter which instance computes it.
package partition

import (
	"errors"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrNotReady is returned while partition metadata is unavailable (before
// the directory has been populated or during a rebalance).  Handlers
// should translate this into an HTTP 503 response.
var ErrNotReady = errors.New("partition metadata not ready")

// For maps key onto one of n partitions.  n must be positive.
func For(key string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Member is one service instance.  Addr is the host:port its HTTP server
// listens on; peers use it for the internal query endpoint.
type Member struct {
	ID   string
	Addr string
}

// Directory maps partitions to owning members.  Assignment is static:
// members are sorted by ID and partition p belongs to members[p % len].
// The directory is safe for concurrent use.
type Directory struct {
	mu         sync.RWMutex
	self       string
	partitions int
	members    []Member
	ready      bool
}

// NewDirectory builds a directory for the given local member id.  The
// directory is not ready until SetReady(true) is called.
func NewDirectory(self string, partitions int, members []Member) *Directory {
	d := &Directory{self: self, partitions: partitions}
	d.setMembers(members)
	return d
}

func (d *Directory) setMembers(members []Member) {
	ms := append([]Member(nil), members...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
	d.members = ms
}

// Self returns the local member id.
func (d *Directory) Self() string { return d.self }

// Partitions returns the configured partition count.
func (d *Directory) Partitions() int { return d.partitions }

// SetReady flips the readiness flag.  Queries fail with ErrNotReady while
// it is false.
func (d *Directory) SetReady(ready bool) {
	d.mu.Lock()
	d.ready = ready
	d.mu.Unlock()
}

// Ready reports whether ownership metadata can be trusted.
func (d *Directory) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready && len(d.members) > 0
}

// Owner returns the member owning partition p.
func (d *Directory) Owner(p int) (Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.ready || len(d.members) == 0 || p < 0 || p >= d.partitions {
		return Member{}, ErrNotReady
	}
	return d.members[p%len(d.members)], nil
}

// OwnerOfKey hashes key and returns its partition and owning member.
func (d *Directory) OwnerOfKey(key string) (int, Member, error) {
	p := For(key, d.partitions)
	m, err := d.Owner(p)
	return p, m, err
}

// Owned lists the partitions assigned to the local member, ascending.  It
// ignores readiness so the pipeline can start consuming before the
// directory is published as ready.
func (d *Directory) Owned() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int
	if len(d.members) == 0 {
		return out
	}
	for p := 0; p < d.partitions; p++ {
		if d.members[p%len(d.members)].ID == d.self {
			out = append(out, p)
		}
	}
	return out
}
