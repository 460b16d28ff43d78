package syncbus

import (
	"context"
	"sync"

	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus on NATS subjects.
type NATSBus struct {
	fanout
	conn *nats.Conn

	subMu sync.Mutex
	subs  map[string]*nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		conn: conn,
		subs: make(map[string]*nats.Subscription),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, topic string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(topic, data); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, topic string) (chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.subMu.Lock()
	if _, ok := b.subs[topic]; !ok {
		ns, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
			if ev, ok := decodeEvent(m.Data); ok {
				b.deliver(topic, ev)
			}
		})
		if err != nil {
			b.subMu.Unlock()
			return nil, err
		}
		b.subs[topic] = ns
	}
	ch, _ := b.add(topic)
	b.subMu.Unlock()
	// make sure the subscription is registered server side before
	// returning so an immediate publish is not lost
	if err := b.conn.Flush(); err != nil {
		_ = b.Unsubscribe(context.Background(), topic, ch)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), topic, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, topic string, ch chan Event) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	found, last := b.remove(topic, ch)
	if !found || !last {
		return nil
	}
	ns, ok := b.subs[topic]
	if !ok {
		return nil
	}
	delete(b.subs, topic)
	return ns.Unsubscribe()
}
