package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-gracelock/v1/syncbus"
)

var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// DefaultRetryInterval bounds how long Acquire waits between attempts when
// no release notification arrives.
const DefaultRetryInterval = 50 * time.Millisecond

// Redis implements Locker using a Redis backend.
type Redis struct {
	client redis.UniversalClient
	bus    syncbus.Bus
	prefix string
	retry  time.Duration
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces the Redis keys.
func WithKeyPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// WithRetryInterval sets the fallback polling interval of Acquire.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// NewRedis returns a new Redis locker using the provided client. Releases
// are announced on bus; a nil bus keeps notifications process-local.
func NewRedis(client redis.UniversalClient, bus syncbus.Bus, opts ...RedisOption) *Redis {
	if bus == nil {
		bus = syncbus.NewInMemoryBus()
	}
	r := &Redis{
		client: client,
		bus:    bus,
		prefix: "gracelock:lock:",
		retry:  DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) redisKey(key string) string { return r.prefix + key }

// TryLock attempts to obtain the lock without waiting.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.redisKey(key), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Acquire blocks until the lock is obtained or the context is cancelled.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := r.bus.Subscribe(subCtx, "unlock:"+key)
	if err != nil {
		return "", err
	}
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		token, ok, err := r.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		select {
		case <-ch:
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Release frees the lock for the given key if token still holds it, and
// wakes the waiters when it did.
func (r *Redis) Release(ctx context.Context, key, token string) error {
	n, err := delScript.Run(ctx, r.client, []string{r.redisKey(key)}, token).Int()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	if err != nil || n == 0 {
		return err
	}
	_ = r.bus.Publish(ctx, "unlock:"+key, syncbus.Event{Key: key})
	return nil
}
