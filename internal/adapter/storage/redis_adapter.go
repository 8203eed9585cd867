package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "stockledger:"
	idempotencyKeyTTL  = 24 * time.Hour
)

// RedisAdapter keeps one string value per collection key.
type RedisAdapter struct {
	client *redis.Client
	prefix string
}

func NewRedisAdapter(client *redis.Client, prefix string) *RedisAdapter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisAdapter{client: client, prefix: prefix}
}

func (r *RedisAdapter) Read(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisAdapter) Write(ctx context.Context, key string, payload []byte) error {
	return r.client.Set(ctx, r.prefix+key, payload, 0).Err()
}

func (r *RedisAdapter) RemoveAll(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, r.prefix+k)
	}
	return r.client.Del(ctx, prefixed...).Err()
}

// Claim sets an idempotency key, returns false if it already exists
func (r *RedisAdapter) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// Release deletes a claimed idempotency key
func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
