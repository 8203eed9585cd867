package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL   = 30 * time.Second
	lockRetry = 50 * time.Millisecond
)

// RedisLocker serializes ledger writers across processes sharing one Redis.
type RedisLocker struct {
	client *redislock.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLocker{client: redislock.New(client), prefix: prefix}
}

// Lock retries until the lock is obtained or ctx expires. Without a ctx
// deadline redislock gives up after the lock TTL.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, l.prefix+"lock:"+key, lockTTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(lockRetry),
	})
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
