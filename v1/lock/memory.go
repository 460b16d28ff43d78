package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lockState struct {
	token  string
	timer  *time.Timer
	notify chan struct{}
}

// InMemory implements Locker using local memory.
type InMemory struct {
	mu    sync.Mutex
	locks map[string]*lockState
}

// NewInMemory returns a new in-memory locker.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]*lockState)}
}

// TryLock attempts to obtain the lock without waiting. It returns true on success.
func (l *InMemory) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[key]; ok {
		return "", false, nil
	}
	st := &lockState{token: uuid.NewString(), notify: make(chan struct{})}
	if ttl > 0 {
		st.timer = time.AfterFunc(ttl, func() { l.expire(key, st) })
	}
	l.locks[key] = st
	return st.token, true, nil
}

// Acquire blocks until the lock is obtained or the context is cancelled.
func (l *InMemory) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	for {
		token, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		l.mu.Lock()
		st, held := l.locks[key]
		l.mu.Unlock()
		if !held {
			continue
		}
		select {
		case <-st.notify:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Release frees the lock for the given key if token still holds it.
func (l *InMemory) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.locks[key]; ok && st.token == token {
		l.drop(key, st)
	}
	return nil
}

// expire drops st only if it is still the current holder of key.
func (l *InMemory) expire(key string, st *lockState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.locks[key]; ok && cur == st {
		l.drop(key, st)
	}
}

func (l *InMemory) drop(key string, st *lockState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	close(st.notify)
	delete(l.locks, key)
}

// Held reports whether key is currently locked.
func (l *InMemory) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[key]
	return ok
}
