package watchbus

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryWatchBus(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, err := bus.Watch(ctx, "foo")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if err := bus.Publish(ctx, "foo", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Fatalf("unexpected %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	if err := bus.Unwatch(ctx, "foo", ch); err != nil {
		t.Fatalf("unwatch: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unwatch")
	}
}

func TestBroadcastReachesRecordAndSharedFeeds(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, _ := bus.Watch(ctx, RecordKey("r1"))
	all, _ := bus.Watch(ctx, AllKey)
	other, _ := bus.Watch(ctx, RecordKey("r2"))

	if err := Broadcast(ctx, bus, "r1", []byte("tick")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	for name, ch := range map[string]chan []byte{"record": rec, "all": all} {
		select {
		case msg := <-ch:
			if string(msg) != "tick" {
				t.Fatalf("%s: unexpected %s", name, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timeout waiting for message", name)
		}
	}
	select {
	case msg := <-other:
		t.Fatalf("unrelated feed received %s", msg)
	default:
	}
}

func TestInMemoryWatchBusSlowWatcherDropsTicks(t *testing.T) {
	bus := NewInMemory()
	ctx := context.Background()
	ch, _ := bus.Watch(ctx, "k")
	for i := 0; i < watchBuffer*2; i++ {
		if err := bus.Publish(ctx, "k", []byte("x")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(ch) != watchBuffer {
		t.Fatalf("expected %d buffered, got %d", watchBuffer, len(ch))
	}
}
