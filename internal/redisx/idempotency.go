package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Idempotency maps a client Idempotency-Key to the order it produced. It is
// a fast path only: the unique column on orders stays authoritative.
type Idempotency struct {
	RDB redis.Cmdable
}

// Lookup returns the order id remembered for key, or "" when none is known.
func (i *Idempotency) Lookup(ctx context.Context, key string) (string, error) {
	v, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderPlace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Remember stores key -> orderID unless another order id is already recorded.
func (i *Idempotency) Remember(ctx context.Context, key, orderID string) error {
	return i.RDB.SetNX(ctx, fmt.Sprintf(KeyIdemOrderPlace, key), orderID, TTLIdempotency).Err()
}
