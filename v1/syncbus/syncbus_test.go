package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

// exerciseBus checks delivery, fan-out and context based unsubscription.
func exerciseBus(t *testing.T, bus Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "records")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	subCtx, subCancel := context.WithCancel(context.Background())
	b, err := bus.Subscribe(subCtx, "records")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(context.Background(), "records", Event{Key: "row-1", Origin: "s1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Key != "row-1" || ev.Origin != "s1" {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for publish")
		}
	}

	subCancel()
	select {
	case _, ok := <-b:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unsubscribe")
	}

	if err := bus.Publish(context.Background(), "records", Event{Key: "row-2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-a:
		if ev.Key != "row-2" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber must still receive events")
	}
}

func TestInMemoryBus(t *testing.T) {
	bus := NewInMemoryBus()
	exerciseBus(t, bus)
	m := bus.Metrics()
	if m.Published != 2 || m.Delivered != 3 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestInMemoryBusTopicsAreIsolated(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := bus.Subscribe(ctx, "a")
	_ = bus.Publish(ctx, "b", Event{Key: "x"})
	select {
	case ev := <-ch:
		t.Fatalf("unexpected delivery %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestInMemoryBusContextCanceled(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(ctx, "k", Event{Key: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, ok := decodeEvent([]byte("1")); ok {
		t.Fatal("expected garbage to be rejected")
	}
	if _, ok := decodeEvent([]byte(`{"origin":"x"}`)); ok {
		t.Fatal("events without a key must be rejected")
	}
}
