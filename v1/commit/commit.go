// Package commit writes confirmed cell edits and turns expired grace
// windows into permanent locks. Both paths re-read the authoritative
// record under a per-record lock before writing, so concurrent sessions
// never overwrite each other's lock state with a stale copy.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/audit"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/ledger"
	"github.com/mirkobrombin/go-gracelock/v1/lock"
	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-gracelock/v1/commit")

// DefaultTopic is the syncbus topic carrying record invalidations.
const DefaultTopic = "gracelock.records"

// DefaultLockTTL bounds how long a crashed writer can hold a record.
const DefaultLockTTL = 30 * time.Second

// Input is a confirmed edit.
type Input struct {
	RecordID string
	Field    record.Field
	Value    any
	// Derived carries the estimated units of a weight edit.
	Derived *float64
	User    string
}

// Pipeline commits edits against a record store.
type Pipeline struct {
	store   adapter.RecordStore
	ledger  *ledger.Ledger
	timers  *grace.Registry
	audit   audit.Sink
	bus     syncbus.Bus
	topic   string
	origin  string
	locker  lock.Locker
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLedger updates ledger after every write.
func WithLedger(l *ledger.Ledger) Option {
	return func(p *Pipeline) { p.ledger = l }
}

// WithTimers registers grace timers on r.
func WithTimers(r *grace.Registry) Option {
	return func(p *Pipeline) { p.timers = r }
}

// WithAudit appends EDIT entries to s. Failures are logged only.
func WithAudit(s audit.Sink) Option {
	return func(p *Pipeline) { p.audit = s }
}

// WithBus publishes an invalidation on topic after every write. origin
// identifies this session in the events.
func WithBus(bus syncbus.Bus, topic, origin string) Option {
	return func(p *Pipeline) {
		p.bus = bus
		if topic != "" {
			p.topic = topic
		}
		p.origin = origin
	}
}

// WithLocker serializes writers of the same record through l.
func WithLocker(l lock.Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithLockTTL sets the expiry of record locks.
func WithLockTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.lockTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a Pipeline writing to store.
func New(store adapter.RecordStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:   store,
		topic:   DefaultTopic,
		locker:  lock.NewInMemory(),
		lockTTL: DefaultLockTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.audit != nil {
		p.audit = audit.BestEffort(p.audit, p.logger)
	}
	return p
}

// Topic returns the invalidation topic.
func (p *Pipeline) Topic() string { return p.topic }

// Commit writes in and returns the stored record. On error nothing was
// written, the ledger is untouched and no timer is registered.
func (p *Pipeline) Commit(ctx context.Context, in Input) (record.Record, error) {
	ctx, span := tracer.Start(ctx, "commit.Commit", trace.WithAttributes(
		attribute.String("record.id", in.RecordID),
		attribute.String("record.field", string(in.Field)),
	))
	defer span.End()

	var out record.Record
	err := lock.With(ctx, p.locker, lock.RecordKey(in.RecordID), p.lockTTL, func(ctx context.Context) error {
		var err error
		out, err = p.commit(ctx, in)
		return err
	})
	switch {
	case err == nil:
		metrics.CommitCounter.WithLabelValues("committed").Inc()
	case errors.Is(err, gerrors.ErrStaleRow):
		metrics.CommitCounter.WithLabelValues("stale").Inc()
	default:
		metrics.CommitCounter.WithLabelValues("failed").Inc()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return record.Record{}, err
	}
	return out, nil
}

func (p *Pipeline) commit(ctx context.Context, in Input) (record.Record, error) {
	if in.Field == record.EstUnits || !in.Field.Valid() {
		return record.Record{}, fmt.Errorf("commit %s: %w", in.Field, gerrors.ErrNotEditable)
	}
	value, err := record.Normalize(in.Field, in.Value)
	if err != nil {
		return record.Record{}, err
	}
	in.Value = value

	cur, err := p.fetch(ctx, in.RecordID)
	if err != nil {
		return record.Record{}, err
	}

	now := p.now()
	patch := record.Patch{UpdatedBy: in.User, UpdatedAt: now}
	patch.Set(in.Field, value)
	cells := cur.LockedCells.Clone()
	if cells == nil {
		cells = make(record.LockedCells)
	}
	locked := []record.Field{in.Field}
	if fx, ok := SideEffects[in.Field]; ok {
		eff := fx(in, cur)
		patch.Merge(eff.Patch)
		locked = append(locked, eff.Lock...)
	}
	for _, f := range locked {
		cells[f] = record.LockDescriptor{Locked: true, Timestamp: now}
	}
	patch.LockedCells = cells

	next := patch.Apply(cur)
	fully, ts := record.LockState(next.Values, cells, cur.Locked, cur.LockTimestamp, now)
	patch.Locked = record.Bool(fully)
	if ts != nil {
		patch.LockTimestamp = ts
	}

	updated, err := p.store.Update(ctx, in.RecordID, patch)
	if err != nil {
		if errors.Is(err, gerrors.ErrStaleRow) {
			return record.Record{}, err
		}
		return record.Record{}, fmt.Errorf("update %s: %w: %w", in.RecordID, gerrors.ErrPersistence, err)
	}

	p.appendAudit(ctx, in, cur, locked)

	if p.timers != nil {
		for _, f := range locked {
			p.timers.Register(grace.Key{RecordID: in.RecordID, Field: f}, p.timers.Seconds())
		}
	}
	p.publish(ctx, updated)
	return updated, nil
}

func (p *Pipeline) fetch(ctx context.Context, id string) (record.Record, error) {
	cur, ok, err := p.store.Get(ctx, id)
	if err != nil {
		return record.Record{}, fmt.Errorf("fetch %s: %w: %w", id, gerrors.ErrPersistence, err)
	}
	if !ok {
		return record.Record{}, fmt.Errorf("record %s: %w", id, gerrors.ErrStaleRow)
	}
	return cur, nil
}

func (p *Pipeline) appendAudit(ctx context.Context, in Input, cur record.Record, locked []record.Field) {
	if p.audit == nil {
		return
	}
	changes := map[record.Field]audit.Change{
		in.Field: {Old: nullable(cur.Value(in.Field)), New: nullable(in.Value)},
	}
	for _, f := range locked {
		if f == record.EstUnits && in.Derived != nil {
			changes[f] = audit.Change{Old: nullable(cur.Value(f)), New: *in.Derived}
		}
	}
	_ = p.audit.Append(ctx, audit.Entry{
		User:       in.User,
		ActionType: audit.ActionEdit,
		Details:    audit.EditDetails(in.RecordID, changes),
		Timestamp:  p.now(),
	})
}

// publish refreshes the ledger and tells other sessions about the write.
func (p *Pipeline) publish(ctx context.Context, r record.Record) {
	if p.ledger != nil {
		if err := p.ledger.Put(ctx, r); err != nil {
			p.logger.Warn("gracelock: projection update failed", "record", r.ID, "error", err)
		}
	}
	if p.bus != nil {
		if err := p.bus.Publish(ctx, p.topic, syncbus.Event{Key: r.ID, Origin: p.origin}); err != nil {
			p.logger.Warn("gracelock: invalidation publish failed", "record", r.ID, "error", err)
		}
	}
}

func nullable(v any) any {
	if record.IsNull(v) {
		return nil
	}
	return v
}
