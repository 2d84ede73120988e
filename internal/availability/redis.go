package availability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-reservation-pipeline/internal/model"
	"github.com/iliyamo/seat-reservation-pipeline/internal/obs"
)

// Redis shares counts between instances through a Redis server.  Every
// Redis failure degrades to "allow": the pre-filter must never block a
// request the pipeline could still satisfy.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedis wraps rdb.  ttl bounds how long a count is trusted; zero keeps
// counts until overwritten.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "avail"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, log: obs.Component("availability")}
}

func (r *Redis) key(eventID int64, section string) string {
	return r.prefix + ":" + model.InventoryKey(eventID, section)
}

func (r *Redis) HasEnoughSeats(ctx context.Context, eventID int64, section string, seatCount int) bool {
	n, ok := r.Available(ctx, eventID, section)
	return !ok || n >= seatCount
}

func (r *Redis) Set(ctx context.Context, eventID int64, section string, available int) {
	if err := r.rdb.Set(ctx, r.key(eventID, section), available, r.ttl).Err(); err != nil {
		r.log.Warn("set available count failed", "key", r.key(eventID, section), "error", err)
	}
}

func (r *Redis) Available(ctx context.Context, eventID int64, section string) (int, bool) {
	n, err := r.rdb.Get(ctx, r.key(eventID, section)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("get available count failed", "key", r.key(eventID, section), "error", err)
		}
		return 0, false
	}
	return n, true
}
