package memo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the memoiser with a shared redis instance.
type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// NewRedisCacheURL dials the instance at a redis:// URL and verifies the
// connection before returning.
func NewRedisCacheURL(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Lock polls SET NX until the lock is acquired or the wait window closes.
// The lock expires server-side after ttl so a crashed holder cannot wedge
// other workers.
func (r *RedisCache) Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(ttl)
	for {
		ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := r.client.Del(context.Background(), key).Err(); err != nil {
					log.Printf("memo: release lock %s failed: %v", key, err)
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: wait timed out", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
