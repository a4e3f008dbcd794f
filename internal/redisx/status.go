package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fusionaura/storefront-orders/internal/orders"
)

// StatusEntry is the cached body of GET /orders/{id}/status.
type StatusEntry struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache is a read-through cache of order statuses. Postgres stays the
// source of truth; entries are refreshed from committed status events.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

// Get returns ok=false on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return StatusEntry{}, false, err
	}
	return e, true, nil
}

func (c *StatusCache) Set(ctx context.Context, e StatusEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, e.OrderID), b, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// NotifyStatusChanged keeps the cache in step with committed transitions.
func (c *StatusCache) NotifyStatusChanged(ctx context.Context, ev orders.StatusChangedEvent) error {
	return c.Set(ctx, StatusEntry{OrderID: ev.OrderID, Status: ev.Status, UpdatedAt: ev.OccurredAt})
}
