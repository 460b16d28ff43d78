// Package watchbus streams grace countdown updates to watchers. The grace
// registry publishes every tick on the feed of the affected record and on
// the shared feed; HTTP handlers relay a feed over SSE or WebSocket.
package watchbus

import "context"

// AllKey is the feed carrying updates for every record.
const AllKey = "grace"

// RecordKey returns the feed carrying updates for a single record.
func RecordKey(recordID string) string { return AllKey + ":" + recordID }

// WatchBus provides a simple message bus for streaming events.
// Clients can publish messages to a key and watch for updates.
type WatchBus interface {
	// Publish sends the given data to all watchers of key.
	Publish(ctx context.Context, key string, data []byte) error
	// Watch subscribes to messages for key. Returned channel receives
	// message payloads until the context is canceled or Unwatch is called.
	Watch(ctx context.Context, key string) (chan []byte, error)
	// Unwatch stops delivering messages for key to ch.
	Unwatch(ctx context.Context, key string, ch chan []byte) error
}

// Broadcast publishes data on the record feed and on AllKey.
func Broadcast(ctx context.Context, bus WatchBus, recordID string, data []byte) error {
	if err := bus.Publish(ctx, RecordKey(recordID), data); err != nil {
		return err
	}
	return bus.Publish(ctx, AllKey, data)
}
