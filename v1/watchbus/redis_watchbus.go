package watchbus

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// RedisWatchBus relays countdown updates over Redis pub/sub so a dashboard
// attached to one process sees timers owned by another. Updates are not
// retained; a watcher only sees ticks published after it subscribed.
type RedisWatchBus struct {
	client redis.UniversalClient
	prefix string

	mu      sync.Mutex
	cancels map[string]map[chan []byte]context.CancelFunc
}

// NewRedisWatchBus creates a new RedisWatchBus using the provided client.
func NewRedisWatchBus(client redis.UniversalClient) *RedisWatchBus {
	return &RedisWatchBus{
		client:  client,
		prefix:  "gracelock:watch:",
		cancels: make(map[string]map[chan []byte]context.CancelFunc),
	}
}

// Publish implements WatchBus.Publish.
func (b *RedisWatchBus) Publish(ctx context.Context, key string, data []byte) error {
	return b.client.Publish(ctx, b.prefix+key, data).Err()
}

// Watch implements WatchBus.Watch.
func (b *RedisWatchBus) Watch(ctx context.Context, key string) (chan []byte, error) {
	ps := b.client.Subscribe(ctx, b.prefix+key)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, watchBuffer)

	b.mu.Lock()
	m := b.cancels[key]
	if m == nil {
		m = make(map[chan []byte]context.CancelFunc)
		b.cancels[key] = m
	}
	m[ch] = cancel
	b.mu.Unlock()

	go func() {
		defer close(ch)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				default:
				}
			case <-ctx.Done():
				b.forget(key, ch)
				return
			}
		}
	}()
	return ch, nil
}

// Unwatch implements WatchBus.Unwatch. The channel is closed
// asynchronously once the relay goroutine exits.
func (b *RedisWatchBus) Unwatch(_ context.Context, key string, ch chan []byte) error {
	b.mu.Lock()
	cancel, ok := b.cancels[key][ch]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (b *RedisWatchBus) forget(key string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.cancels[key]; ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.cancels, key)
		}
	}
}
