package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache keeps a short-lived JSON copy of an order for read endpoints.
// Each entry is a hash of the snapshot and its version; Set never replaces a
// newer version with an older one.
type StatusCache[T any] struct {
	RDB redis.Cmdable
	TTL time.Duration
}

// setIfNewer: KEYS[1] cache key; ARGV version, payload, ttl in ms.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (c *StatusCache[T]) Get(ctx context.Context, orderID string) (T, bool, error) {
	var out T
	b, err := c.RDB.HGet(ctx, fmt.Sprintf(KeyOrderStatus, orderID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// Set stores v as the snapshot for version unless a newer one is cached.
func (c *StatusCache[T]) Set(ctx context.Context, orderID string, version int64, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return setIfNewer.Run(ctx, c.RDB, []string{fmt.Sprintf(KeyOrderStatus, orderID)},
		version, b, ttl.Milliseconds()).Err()
}

// Invalidate drops the snapshot but keeps its version, so a stale reader
// still cannot write an older copy back.
func (c *StatusCache[T]) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.HDel(ctx, fmt.Sprintf(KeyOrderStatus, orderID), "data").Err()
}

// TokenCache shares the carrier bearer token between processes.
type TokenCache struct {
	RDB     redis.Cmdable
	Account string
}

func (c *TokenCache) Load(ctx context.Context) (string, time.Time, error) {
	key := fmt.Sprintf(KeyCarrierToken, c.Account)
	pipe := c.RDB.Pipeline()
	get := pipe.Get(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", time.Time{}, err
	}
	tok, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	d := ttl.Val()
	if d <= 0 {
		return "", time.Time{}, nil
	}
	return tok, time.Now().Add(d), nil
}

func (c *TokenCache) Store(ctx context.Context, token string, expiresAt time.Time) error {
	d := time.Until(expiresAt)
	if d <= 0 {
		return nil
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyCarrierToken, c.Account), token, d).Err()
}

func (c *TokenCache) Invalidate(ctx context.Context) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyCarrierToken, c.Account)).Err()
}

// Dedup marks event ids as processed for one consumer service.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
}

// First reports whether id has not been seen before, and claims it.
func (d *Dedup) First(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), "1", TTLDedup).Result()
}

// Release forgets id so a failed delivery can be retried.
func (d *Dedup) Release(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
