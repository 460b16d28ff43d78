package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-gracelock/v1/cache")

// Cache defines the basic operations for a cache layer.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves a value for the given key. The boolean return
	// indicates whether the key was found.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for the given key for the specified TTL. A zero
	// TTL never expires.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// Invalidate removes the key from the cache.
	Invalidate(ctx context.Context, key string) error
}

// InMemoryCache is an LRU cache with per-entry TTL.
type InMemoryCache[T any] struct {
	mu            sync.RWMutex
	items         map[string]item[T]
	order         *list.List
	hits          atomic.Uint64
	misses        atomic.Uint64
	sweepInterval time.Duration
	maxEntries    int
	name          string
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	hitCounter      prometheus.Counter
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	latencyHist     prometheus.Histogram
	traceEnabled    bool
}

type item[T any] struct {
	value     T
	expiresAt time.Time
	element   *list.Element
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption[T any] func(*InMemoryCache[T])

// WithSweepInterval sets the interval at which expired items are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval[T any](d time.Duration) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.sweepInterval = d
	}
}

// WithMaxEntries bounds the cache size; the least recently used entry is
// evicted first. A non-positive value means unbounded.
func WithMaxEntries[T any](n int) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.maxEntries = n
	}
}

// WithName labels the Prometheus collectors of this cache so several
// caches can share a registry.
func WithName[T any](name string) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.name = name
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registerer. Apply it after WithName.
func WithMetrics[T any](reg prometheus.Registerer) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		labels := prometheus.Labels{"cache": c.name}
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gracelock_cache_hits_total",
			Help:        "Total number of cache hits",
			ConstLabels: labels,
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gracelock_cache_misses_total",
			Help:        "Total number of cache misses",
			ConstLabels: labels,
		})
		c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gracelock_cache_evictions_total",
			Help:        "Total number of cache evictions",
			ConstLabels: labels,
		})
		c.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "gracelock_cache_latency_seconds",
			Help:        "Latency of cache operations",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.evictionCounter, c.latencyHist)
	}
}

// WithTracing enables OpenTelemetry spans for cache operations.
func WithTracing[T any]() InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.traceEnabled = true
	}
}

const defaultSweepInterval = time.Minute

// NewInMemory returns a new InMemoryCache. Unless disabled with
// WithSweepInterval(0), a background goroutine removes expired entries
// every minute; call Close to stop it.
func NewInMemory[T any](opts ...InMemoryOption[T]) *InMemoryCache[T] {
	c := &InMemoryCache[T]{
		items:         make(map[string]item[T]),
		order:         list.New(),
		sweepInterval: defaultSweepInterval,
		name:          "default",
	}
	for _, opt := range opts {
		opt(c)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper(ctx)
	}
	return c
}

// observe starts the optional span and latency measurement of an operation.
// The returned function must be deferred.
func (c *InMemoryCache[T]) observe(ctx context.Context, op string) (context.Context, trace.Span, func()) {
	if !c.traceEnabled && c.latencyHist == nil {
		return ctx, nil, func() {}
	}
	start := time.Now()
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Cache."+op)
	}
	return ctx, span, func() {
		latency := time.Since(start)
		if c.latencyHist != nil {
			c.latencyHist.Observe(latency.Seconds())
		}
		if span != nil {
			span.SetAttributes(attribute.Int64("gracelock.cache.latency_ms", latency.Milliseconds()))
			span.End()
		}
	}
}

func (c *InMemoryCache[T]) miss(span trace.Span) {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
	if span != nil {
		span.SetAttributes(attribute.String("gracelock.cache.result", "miss"))
	}
}

func (c *InMemoryCache[T]) evicted() {
	if c.evictionCounter != nil {
		c.evictionCounter.Inc()
	}
}

// Get implements Cache.Get.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	ctx, span, done := c.observe(ctx, "Get")
	defer done()

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	c.mu.Lock()
	it, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.miss(span)
		return zero, false, nil
	}
	if !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		c.order.Remove(it.element)
		delete(c.items, key)
		c.mu.Unlock()
		c.evicted()
		c.miss(span)
		return zero, false, nil
	}
	c.order.MoveToFront(it.element)
	c.mu.Unlock()

	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
	if span != nil {
		span.SetAttributes(attribute.String("gracelock.cache.result", "hit"))
	}
	return it.value, true, nil
}

// Set implements Cache.Set.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	ctx, _, done := c.observe(ctx, "Set")
	defer done()

	if err := ctx.Err(); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		it.value = value
		it.expiresAt = exp
		c.items[key] = it
		c.order.MoveToFront(it.element)
		return nil
	}
	elem := c.order.PushFront(key)
	c.items[key] = item[T]{value: value, expiresAt: exp, element: elem}
	if c.maxEntries > 0 && len(c.items) > c.maxEntries {
		if tail := c.order.Back(); tail != nil {
			c.order.Remove(tail)
			delete(c.items, tail.Value.(string))
			c.evicted()
		}
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (c *InMemoryCache[T]) Invalidate(ctx context.Context, key string) error {
	ctx, _, done := c.observe(ctx, "Invalidate")
	defer done()

	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.order.Remove(it.element)
		delete(c.items, key)
	}
	return nil
}

// Keys returns the keys currently held, most recently used first.
func (c *InMemoryCache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

// sweeper samples entries and drops expired ones, repeating while more
// than a quarter of the sample was stale.
func (c *InMemoryCache[T]) sweeper(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			expired, checked := 0, 0
			now := time.Now()
			c.mu.Lock()
			for k, it := range c.items {
				checked++
				if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
					c.order.Remove(it.element)
					delete(c.items, k)
					c.evicted()
					expired++
				}
				if checked >= sampleSize {
					break
				}
			}
			c.mu.Unlock()
			if float64(expired) < sampleSize*evictionRatio {
				break
			}
		}
	}
}

// Close terminates the sweeper and drops every entry.
func (c *InMemoryCache[T]) Close() {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.items = make(map[string]item[T])
	c.order.Init()
	c.mu.Unlock()
}

// Stats reports basic metrics about cache usage.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Metrics returns current metrics for the cache.
func (c *InMemoryCache[T]) Metrics() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}
