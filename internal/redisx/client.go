package redisx

import (
	"context"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Deduper remembers processed ids per service. Redis is only a fast path;
// callers keep a durable guard of their own.
type Deduper struct {
	RDB     *redis.Client
	Service string
	TTL     time.Duration
}

func (d *Deduper) key(id string) string { return fmtKey(KeyDedup, d.Service, id) }

func (d *Deduper) ttl() time.Duration {
	if d.TTL > 0 {
		return d.TTL
	}
	return TTLDedup
}

func (d *Deduper) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.RDB, d.key(id))
}

func (d *Deduper) Mark(ctx context.Context, id string) error {
	return d.RDB.Set(ctx, d.key(id), "1", d.ttl()).Err()
}

// Claim marks id and reports whether this caller was first.
func (d *Deduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, d.key(id), "1", d.ttl()).Result()
}

// Forget drops a claim so a failed attempt can be retried.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, d.key(id)).Err()
}
