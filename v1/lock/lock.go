package lock

import (
	"context"
	"fmt"
	"time"
)

// Locker provides mutual exclusion keyed by string. Every acquisition
// returns a token; Release frees the key only while that token still holds
// it, so a holder whose TTL ran out cannot free its successor's lock.
type Locker interface {
	// TryLock attempts to obtain the lock without waiting.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Acquire blocks until the lock is obtained or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Release frees the lock held with token. Releasing a lock that is not
	// held, or held under another token, is a no-op.
	Release(ctx context.Context, key, token string) error
}

// RecordKey returns the lock key guarding writes to a record.
func RecordKey(id string) string { return "record:" + id }

// With runs fn while holding key. The lock is released even when fn fails.
func With(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(context.Context) error) error {
	token, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() { _ = l.Release(context.WithoutCancel(ctx), key, token) }()
	return fn(ctx)
}
