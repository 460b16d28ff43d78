package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[string]()
	t.Cleanup(c.Close)
	if err := c.Set(ctx, "foo", "bar", 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok, err := c.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
		t.Fatalf("expected bar, got %v ok %v err %v", v, ok, err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "foo"); ok {
		t.Fatalf("expected key to expire")
	}

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestInMemoryCacheNoTTL(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[int](WithSweepInterval[int](0))
	t.Cleanup(c.Close)
	_ = c.Set(ctx, "a", 1, 0)
	if v, ok, _ := c.Get(ctx, "a"); !ok || v != 1 {
		t.Fatalf("expected entry without ttl to persist, got %v %v", v, ok)
	}
	if err := c.Invalidate(ctx, "a"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestInMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[int](WithMaxEntries[int](2))
	t.Cleanup(c.Close)
	_ = c.Set(ctx, "a", 1, 0)
	_ = c.Set(ctx, "b", 2, 0)
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", 3, 0)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("a was used recently and must survive")
	}
	if keys := c.Keys(); len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestInMemoryCacheSweeper(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[string](WithSweepInterval[string](5 * time.Millisecond))
	t.Cleanup(c.Close)
	if err := c.Set(ctx, "foo", "bar", 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	c.mu.RLock()
	_, ok := c.items["foo"]
	c.mu.RUnlock()
	if ok {
		t.Fatalf("expected key to be swept")
	}
}

func TestInMemoryCacheContext(t *testing.T) {
	c := NewInMemory[string]()
	t.Cleanup(c.Close)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Set(ctx, "a", "b", 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
	if _, _, err := c.Get(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func TestInMemoryCacheMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := NewInMemory[string](WithName[string]("projection"), WithMetrics[string](reg), WithTracing[string]())
	t.Cleanup(c.Close)

	_ = c.Set(ctx, "k", "v", 0)
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "missing")

	if got := testutil.ToFloat64(c.hitCounter); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(c.missCounter); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
}
