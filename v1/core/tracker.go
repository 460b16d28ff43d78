// Package core wires the tracker into a dashboard session. A Tracker owns
// the lock ledger, the grace timers and the confirmation flow of one
// signed-in user and drives every write through the commit pipeline.
//
// Mount starts the grace clock, the drift validator and the invalidation
// listener; Unmount stops them. Everything else may be called whether the
// tracker is mounted or not.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/audit"
	"github.com/mirkobrombin/go-gracelock/v1/cache"
	"github.com/mirkobrombin/go-gracelock/v1/commit"
	"github.com/mirkobrombin/go-gracelock/v1/confirm"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/ledger"
	"github.com/mirkobrombin/go-gracelock/v1/lock"
	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/reference"
	"github.com/mirkobrombin/go-gracelock/v1/syncbus"
	"github.com/mirkobrombin/go-gracelock/v1/validator"
	"github.com/mirkobrombin/go-gracelock/v1/watchbus"
)

// ErrMounted is returned by Mount when the tracker is already running.
var ErrMounted = errors.New("gracelock: tracker already mounted")

// Tracker is one dashboard session.
type Tracker struct {
	store       adapter.RecordStore
	lookup      reference.Lookup
	ident       identity.Provider
	audit       audit.Sink
	auditReader audit.Reader
	bus         syncbus.Bus
	topic       string
	origin      string
	feed        watchbus.WatchBus
	locker      lock.Locker
	projection  cache.Cache[record.Record]
	period      time.Duration
	tick        time.Duration
	vmode       validator.Mode
	vinterval   time.Duration
	logger      *slog.Logger
	now         func() time.Time

	ledger    *ledger.Ledger
	timers    *grace.Registry
	pipeline  *commit.Pipeline
	validator *validator.Validator

	mu     sync.Mutex
	flow   confirm.State
	onPage map[string]struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLookup resolves units of measure for estimated units.
func WithLookup(l reference.Lookup) Option {
	return func(t *Tracker) { t.lookup = l }
}

// WithIdentity sets the signed-in user. The default is an anonymous viewer.
func WithIdentity(p identity.Provider) Option {
	return func(t *Tracker) {
		if p != nil {
			t.ident = p
		}
	}
}

// WithAudit appends audit entries to s. Failures are logged only.
func WithAudit(s audit.Sink) Option {
	return func(t *Tracker) { t.audit = s }
}

// WithAuditReader serves AuditLog from r.
func WithAuditReader(r audit.Reader) Option {
	return func(t *Tracker) { t.auditReader = r }
}

// WithBus exchanges record invalidations with other sessions on topic.
func WithBus(bus syncbus.Bus, topic string) Option {
	return func(t *Tracker) {
		t.bus = bus
		if topic != "" {
			t.topic = topic
		}
	}
}

// WithFeed publishes grace countdowns on bus.
func WithFeed(bus watchbus.WatchBus) Option {
	return func(t *Tracker) { t.feed = bus }
}

// WithLocker serializes writers of the same record through l. Sessions
// sharing a store should share a distributed locker.
func WithLocker(l lock.Locker) Option {
	return func(t *Tracker) {
		if l != nil {
			t.locker = l
		}
	}
}

// WithProjection stores the session projection in c.
func WithProjection(c cache.Cache[record.Record]) Option {
	return func(t *Tracker) { t.projection = c }
}

// WithGrace sets the grace window and the clock period.
func WithGrace(period, tick time.Duration) Option {
	return func(t *Tracker) {
		t.period = period
		t.tick = tick
	}
}

// WithValidator checks the projection against the store every interval.
func WithValidator(mode validator.Mode, interval time.Duration) Option {
	return func(t *Tracker) {
		t.vmode = mode
		t.vinterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New returns a Tracker over store.
func New(store adapter.RecordStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		ident:  identity.Static{Level: identity.TierViewer},
		topic:  commit.DefaultTopic,
		origin: uuid.NewString(),
		locker: lock.NewInMemory(),
		period: grace.DefaultPeriod,
		tick:   grace.DefaultTick,
		logger: slog.Default(),
		now:    time.Now,
		onPage: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	gopts := []grace.Option{
		grace.WithPeriod(t.period),
		grace.WithTick(t.tick),
		grace.WithLogger(t.logger),
	}
	if t.feed != nil {
		gopts = append(gopts, grace.WithFeed(t.feed))
	}
	t.timers = grace.New(nil, gopts...)
	t.ledger = ledger.New(t.projection, t.timers)

	popts := []commit.Option{
		commit.WithLedger(t.ledger),
		commit.WithTimers(t.timers),
		commit.WithLocker(t.locker),
		commit.WithClock(t.now),
		commit.WithLogger(t.logger),
	}
	if t.audit != nil {
		popts = append(popts, commit.WithAudit(t.audit))
		t.audit = audit.BestEffort(t.audit, t.logger)
	}
	if t.bus != nil {
		popts = append(popts, commit.WithBus(t.bus, t.topic, t.origin))
	}
	t.pipeline = commit.New(store, popts...)
	t.timers.SetFinalizer(t.pipeline.FinalizeLock)
	t.validator = validator.New(t.ledger, store, t.pageIDs, t.vmode, t.vinterval, validator.WithLogger(t.logger))
	return t
}

// Mount starts the session loops. They stop when ctx is done or Unmount
// is called.
func (t *Tracker) Mount(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return ErrMounted
	}
	ctx, cancel := context.WithCancel(ctx)
	var sub chan syncbus.Event
	if t.bus != nil {
		var err error
		sub, err = t.bus.Subscribe(ctx, t.topic)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe %s: %w", t.topic, err)
		}
	}
	t.cancel = cancel
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.timers.Run(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.validator.Run(ctx)
	}()
	if sub != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.listen(ctx, sub)
		}()
	}
	return nil
}

// Unmount stops the session loops and waits for them to exit. Pending
// timers are kept and resume on the next Mount.
func (t *Tracker) Unmount() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
}

func (t *Tracker) listen(ctx context.Context, ch chan syncbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Origin == t.origin {
				continue
			}
			metrics.InvalidationCounter.Inc()
			t.refresh(ctx, ev.Key)
		}
	}
}

// refresh replaces the projected copy of a record written by another
// session and restarts the timers its new descriptors imply.
func (t *Tracker) refresh(ctx context.Context, id string) {
	if !t.shown(id) {
		_ = t.ledger.Invalidate(ctx, id)
		return
	}
	r, ok, err := t.store.Get(ctx, id)
	if err != nil {
		t.logger.Warn("gracelock: refresh failed", "record", id, "error", err)
		_ = t.ledger.Invalidate(ctx, id)
		return
	}
	if !ok {
		t.forget(ctx, id)
		return
	}
	if err := t.ledger.Put(ctx, r); err != nil {
		t.logger.Warn("gracelock: projection update failed", "record", id, "error", err)
	}
	t.timers.Rebuild([]record.Record{r}, t.now())
}

// SignIn records the start of the session in the audit log.
func (t *Tracker) SignIn(ctx context.Context) {
	t.appendAudit(ctx, audit.ActionSignIn, map[string]any{})
}

// User returns the signed-in user.
func (t *Tracker) User() string { return t.ident.CurrentUser() }

// Tier returns the permission tier of the signed-in user.
func (t *Tracker) Tier() identity.Tier { return t.ident.Tier() }

// Timers exposes the grace registry of the session.
func (t *Tracker) Timers() *grace.Registry { return t.timers }

// Ledger exposes the lock ledger of the session.
func (t *Tracker) Ledger() *ledger.Ledger { return t.ledger }

// Validator exposes the drift validator of the session.
func (t *Tracker) Validator() *validator.Validator { return t.validator }

func (t *Tracker) appendAudit(ctx context.Context, action audit.ActionType, details map[string]any) {
	if t.audit == nil {
		return
	}
	_ = t.audit.Append(ctx, audit.Entry{
		User:       t.ident.CurrentUser(),
		ActionType: action,
		Details:    details,
		Timestamp:  t.now(),
	})
}

// publish refreshes the projection and tells other sessions about a write
// made outside the commit pipeline.
func (t *Tracker) publish(ctx context.Context, r record.Record) {
	if err := t.ledger.Put(ctx, r); err != nil {
		t.logger.Warn("gracelock: projection update failed", "record", r.ID, "error", err)
	}
	t.announce(ctx, r.ID)
}

func (t *Tracker) announce(ctx context.Context, id string) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, t.topic, syncbus.Event{Key: id, Origin: t.origin}); err != nil {
		t.logger.Warn("gracelock: invalidation publish failed", "record", id, "error", err)
	}
}

// fetch reads the authoritative copy of a record.
func (t *Tracker) fetch(ctx context.Context, id string) (record.Record, error) {
	r, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return record.Record{}, fmt.Errorf("fetch %s: %w: %w", id, gerrors.ErrPersistence, err)
	}
	if !ok {
		return record.Record{}, fmt.Errorf("record %s: %w", id, gerrors.ErrStaleRow)
	}
	return r, nil
}

func (t *Tracker) show(ids ...string) {
	t.mu.Lock()
	for _, id := range ids {
		t.onPage[id] = struct{}{}
	}
	t.mu.Unlock()
}

func (t *Tracker) shown(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.onPage[id]
	return ok
}

// forget drops every trace of a deleted record from the session.
func (t *Tracker) forget(ctx context.Context, id string) {
	t.mu.Lock()
	delete(t.onPage, id)
	t.mu.Unlock()
	t.timers.CancelRecord(id)
	_ = t.ledger.Invalidate(ctx, id)
}

func (t *Tracker) pageIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.onPage))
	for id := range t.onPage {
		ids = append(ids, id)
	}
	return ids
}
