package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per consumer so redelivered Kafka
// messages are acknowledged without being applied twice.
type Dedup struct {
	rdb      redis.Cmdable
	consumer string
	ttl      time.Duration
}

func NewDedup(rdb redis.Cmdable, consumer string) *Dedup {
	return &Dedup{rdb: rdb, consumer: consumer, ttl: TTLDedup}
}

// First marks id as seen and reports whether this call was the first to do so.
func (d *Dedup) First(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.consumer, id), 1, d.ttl).Result()
}

// Forget drops the mark so a failed event can be processed again on redelivery.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.consumer, id)).Err()
}
