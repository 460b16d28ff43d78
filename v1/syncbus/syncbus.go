// Package syncbus propagates record invalidations between tracker
// sessions. Every write publishes the affected record ID on a topic;
// subscribed sessions drop their cached copy.
package syncbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Event describes an invalidation.
type Event struct {
	// Key is the invalidated record ID.
	Key string `json:"key"`
	// Origin identifies the publishing session so it can skip its own
	// events.
	Origin string `json:"origin,omitempty"`
}

func encodeEvent(ev Event) ([]byte, error) { return json.Marshal(ev) }

func decodeEvent(data []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Key == "" {
		return Event{}, false
	}
	return ev, true
}

// Bus provides a simple pub/sub mechanism for invalidation events.
type Bus interface {
	Publish(ctx context.Context, topic string, ev Event) error
	// Subscribe delivers events on topic until ctx is done or Unsubscribe
	// is called, at which point the channel is closed.
	Subscribe(ctx context.Context, topic string) (chan Event, error)
	Unsubscribe(ctx context.Context, topic string, ch chan Event) error
}

// subscriberBuffer bounds how many undelivered events a slow subscriber
// can hold; further events are dropped.
const subscriberBuffer = 64

// Metrics reports bus throughput.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// fanout holds the local subscribers shared by every implementation.
type fanout struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

func (f *fanout) add(topic string) (chan Event, bool) {
	ch := make(chan Event, subscriberBuffer)
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[string][]chan Event)
	}
	first := len(f.subs[topic]) == 0
	f.subs[topic] = append(f.subs[topic], ch)
	f.mu.Unlock()
	return ch, first
}

// remove closes ch and reports whether topic has no subscribers left.
func (f *fanout) remove(topic string, ch chan Event) (found, last bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[topic]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			found = true
			break
		}
	}
	if len(subs) == 0 {
		delete(f.subs, topic)
		return found, true
	}
	f.subs[topic] = subs
	return found, false
}

func (f *fanout) deliver(topic string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[topic] {
		select {
		case ch <- ev:
			f.delivered.Add(1)
		default:
		}
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, subs := range f.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(f.subs, topic)
	}
}

// Metrics returns the published and delivered counts.
func (f *fanout) Metrics() Metrics {
	return Metrics{Published: f.published.Load(), Delivered: f.delivered.Load()}
}

// InMemoryBus is a process-local Bus.
type InMemoryBus struct {
	fanout
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.published.Add(1)
	b.deliver(topic, ev)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, topic string) (chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, _ := b.add(topic)
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, topic string, ch chan Event) error {
	b.remove(topic, ch)
	return nil
}
