package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRequestInFlight means another request holding the same idempotency key
// has not finished yet.
var ErrRequestInFlight = errors.New("idempotency: request in flight")

// Idempotency guards order creation with client supplied keys.
type Idempotency struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb, ttl: TTLIdempotency}
}

// Claim reserves key for the caller. When the key was already used it returns
// the order id created under it, or ErrRequestInFlight while that request runs.
func (i *Idempotency) Claim(ctx context.Context, key string) (orderID string, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	ok, err := i.rdb.SetNX(ctx, k, "", i.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}
	existing, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return i.Claim(ctx, key)
	}
	if err != nil {
		return "", false, err
	}
	if existing == "" {
		return "", false, ErrRequestInFlight
	}
	return existing, false, nil
}

// Complete records the order created under a claimed key.
func (i *Idempotency) Complete(ctx context.Context, key, orderID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, i.ttl).Err()
}

// Abandon releases a claim after a failed request so the client may retry.
func (i *Idempotency) Abandon(ctx context.Context, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Err()
}
