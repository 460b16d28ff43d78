package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCache implements Cache using a Redis backend. Keys are namespaced
// with an optional prefix so several caches can share one database.
type RedisCache[T any] struct {
	client redis.UniversalClient
	codec  Codec
	prefix string
}

// RedisOption configures a RedisCache.
type RedisOption func(*redisOptions)

type redisOptions struct {
	codec  Codec
	prefix string
}

// WithCodec overrides the default JSON codec.
func WithCodec(c Codec) RedisOption {
	return func(o *redisOptions) { o.codec = c }
}

// WithPrefix namespaces every key.
func WithPrefix(p string) RedisOption {
	return func(o *redisOptions) { o.prefix = p }
}

// NewRedis returns a new RedisCache using the provided Redis client.
func NewRedis[T any](client redis.UniversalClient, opts ...RedisOption) *RedisCache[T] {
	o := redisOptions{codec: JSONCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisCache[T]{client: client, codec: o.codec, prefix: o.prefix}
}

// Get implements Cache.Get. Undecodable entries are reported as errors.
func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

// Invalidate implements Cache.Invalidate.
func (c *RedisCache[T]) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
