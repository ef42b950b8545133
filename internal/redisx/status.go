package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/redis/go-redis/v9"
	"time"
)

type cachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache fronts order status reads for the confirmation page, which
// polls until the webhook has landed.
type StatusCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (string, bool, error) {
	b, err := c.RDB.Get(ctx, fmtKey(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var cs cachedStatus
	if err := json.Unmarshal(b, &cs); err != nil {
		return "", false, err
	}
	return cs.Status, true, nil
}

func (c *StatusCache) Set(ctx context.Context, orderID, status string) error {
	b, err := json.Marshal(cachedStatus{Status: status, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return c.RDB.Set(ctx, fmtKey(KeyOrderStatus, orderID), b, ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmtKey(KeyOrderStatus, orderID)).Err()
}
