package syncbus

import (
	"context"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on Redis pub/sub channels.
type RedisBus struct {
	fanout
	client redis.UniversalClient

	subMu sync.Mutex
	subs  map[string]*redis.PubSub
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client redis.UniversalClient) *RedisBus {
	return &RedisBus{
		client: client,
		subs:   make(map[string]*redis.PubSub),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, topic string, ev Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.subMu.Lock()
	if _, ok := b.subs[topic]; !ok {
		ps := b.client.Subscribe(context.Background(), topic)
		// wait for the subscription confirmation
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			b.subMu.Unlock()
			return nil, err
		}
		b.subs[topic] = ps
		go b.dispatch(topic, ps)
	}
	ch, _ := b.add(topic)
	b.subMu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(topic string, ps *redis.PubSub) {
	for msg := range ps.Channel() {
		if ev, ok := decodeEvent([]byte(msg.Payload)); ok {
			b.deliver(topic, ev)
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, topic string, ch chan Event) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	found, last := b.remove(topic, ch)
	if !found || !last {
		return nil
	}
	ps, ok := b.subs[topic]
	if !ok {
		return nil
	}
	delete(b.subs, topic)
	return ps.Close()
}

// Close drops every subscription.
func (b *RedisBus) Close() error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	var first error
	for topic, ps := range b.subs {
		if err := ps.Close(); err != nil && first == nil {
			first = err
		}
		delete(b.subs, topic)
	}
	b.closeAll()
	return first
}
