package commit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/audit"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/ledger"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/syncbus"
)

// countingStore counts writes and can be told to fail them.
type countingStore struct {
	*adapter.InMemoryStore
	updates atomic.Int32
	fail    atomic.Bool
}

func (s *countingStore) Update(ctx context.Context, id string, p record.Patch) (record.Record, error) {
	if s.fail.Load() {
		return record.Record{}, errors.New("connection reset")
	}
	s.updates.Add(1)
	return s.InMemoryStore.Update(ctx, id, p)
}

type fixture struct {
	store  *countingStore
	ledger *ledger.Ledger
	timers *grace.Registry
	audit  *audit.MemorySink
	bus    *syncbus.InMemoryBus
	p      *Pipeline
	now    time.Time
}

func newFixture(t *testing.T, recs ...record.Record) *fixture {
	t.Helper()
	f := &fixture{
		store: &countingStore{InMemoryStore: adapter.NewInMemoryStore()},
		audit: audit.NewMemorySink(),
		bus:   syncbus.NewInMemoryBus(),
		now:   time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	if _, err := f.store.Insert(context.Background(), recs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	f.timers = grace.New(nil)
	f.ledger = ledger.New(nil, f.timers)
	f.p = New(f.store,
		WithAudit(f.audit),
		WithBus(f.bus, "", "session-a"),
		WithClock(func() time.Time { return f.now }),
		WithTimers(f.timers),
		WithLedger(f.ledger),
	)
	f.timers.SetFinalizer(f.p.FinalizeLock)
	return f
}

func gummies() record.Record {
	return record.Record{
		ID: "r1",
		Values: map[record.Field]any{
			record.Product: "Gummies",
			record.Weight:  10.0,
		},
	}
}

func TestCommitWeightEditWithDerivedUnits(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()
	events, _ := f.bus.Subscribe(ctx, DefaultTopic)

	derived := 10.0
	out, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.Weight, Value: "50", Derived: &derived, User: "ops@example.com"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if out.Values[record.Weight] != 50.0 || out.Values[record.EstUnits] != 10.0 {
		t.Fatalf("unexpected values %v", out.Values)
	}
	for _, fld := range []record.Field{record.Weight, record.EstUnits} {
		d := out.LockedCells[fld]
		if !d.Locked || !d.Timestamp.Equal(f.now) {
			t.Fatalf("%s: expected locked at %v, got %+v", fld, f.now, d)
		}
		if n, ok := f.timers.Remaining(grace.Key{RecordID: "r1", Field: fld}); !ok || n != 300 {
			t.Fatalf("%s: expected 300s timer, got %d %v", fld, n, ok)
		}
	}
	if out.UpdatedBy != "ops@example.com" {
		t.Fatalf("expected updated by user, got %q", out.UpdatedBy)
	}
	if f.store.updates.Load() != 1 {
		t.Fatalf("expected one store update, got %d", f.store.updates.Load())
	}

	entries := f.audit.Entries()
	if len(entries) != 1 || entries[0].ActionType != audit.ActionEdit {
		t.Fatalf("expected one EDIT entry, got %+v", entries)
	}
	changes := entries[0].Details["changes"].(map[string]any)
	if c := changes["wt"].(audit.Change); c.Old != 10.0 || c.New != 50.0 {
		t.Fatalf("unexpected wt change %+v", c)
	}
	if c := changes["est_units"].(audit.Change); c.Old != nil || c.New != 10.0 {
		t.Fatalf("unexpected est_units change %+v", c)
	}

	cached, ok, _ := f.ledger.Get(ctx, "r1")
	if !ok || cached.Values[record.Weight] != 50.0 {
		t.Fatalf("expected ledger refreshed, got %v %v", ok, cached.Values)
	}
	if !f.ledger.IsEditable(cached, record.Weight) {
		t.Fatal("committed cell must stay editable during grace")
	}
	select {
	case ev := <-events:
		if ev.Key != "r1" || ev.Origin != "session-a" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected invalidation event")
	}
}

func TestCommitPackagedDateSideEffects(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()

	out, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.PackagedDate, Value: "2025-03-14"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if out.Values[record.PackYear] != 2025.0 {
		t.Fatalf("expected pack year 2025, got %v", out.Values[record.PackYear])
	}
	if out.Colors[record.WeekStartDate] != PackagedMarker {
		t.Fatalf("expected marker, got %v", out.Colors)
	}
	if out.LockedCells[record.PackYear].Locked {
		t.Fatal("pack year is derived but not locked by the edit")
	}

	out, err = f.p.Commit(ctx, Input{RecordID: "r1", Field: record.PackagedDate, Value: ""})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := out.Values[record.PackYear]; ok {
		t.Fatalf("expected pack year cleared, got %v", out.Values[record.PackYear])
	}
	if _, ok := out.Colors[record.WeekStartDate]; ok {
		t.Fatal("expected marker removed")
	}
}

func TestCommitLockTimestampOnlyOnTransition(t *testing.T) {
	f := newFixture(t, record.Record{ID: "r1", Values: map[record.Field]any{record.Product: "Gummies"}})
	ctx := context.Background()

	out, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.Product, Value: "Chews"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !out.Locked || out.LockTimestamp == nil || !out.LockTimestamp.Equal(f.now) {
		t.Fatalf("expected fully locked at %v, got %v %v", f.now, out.Locked, out.LockTimestamp)
	}
	first := f.now
	f.now = f.now.Add(time.Minute)
	out, err = f.p.Commit(ctx, Input{RecordID: "r1", Field: record.Product, Value: "Drops"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !out.LockTimestamp.Equal(first) {
		t.Fatalf("lock timestamp moved to %v", out.LockTimestamp)
	}
	if !out.LockedCells[record.Product].Timestamp.Equal(f.now) {
		t.Fatal("cell descriptor must carry the latest commit time")
	}
}

func TestCommitStaleRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Commit(context.Background(), Input{RecordID: "gone", Field: record.Product, Value: "x"})
	if !errors.Is(err, gerrors.ErrStaleRow) {
		t.Fatalf("expected stale row, got %v", err)
	}
	if len(f.audit.Entries()) != 0 || f.timers.Len() != 0 {
		t.Fatal("stale commit must not audit or register timers")
	}
}

func TestCommitPersistenceFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()
	_ = f.ledger.Put(ctx, gummies())
	f.store.fail.Store(true)

	_, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.Weight, Value: 99})
	if !errors.Is(err, gerrors.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if errors.Is(err, gerrors.ErrStaleRow) {
		t.Fatal("persistence and stale row must stay distinct")
	}
	cached, _, _ := f.ledger.Get(ctx, "r1")
	if cached.Values[record.Weight] != 10.0 || len(cached.LockedCells) != 0 {
		t.Fatalf("ledger mutated on failure: %+v", cached)
	}
	if f.timers.Len() != 0 || len(f.audit.Entries()) != 0 {
		t.Fatal("failed commit must not register timers or audit")
	}
}

func TestCommitRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()
	if _, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.EstUnits, Value: 3}); !errors.Is(err, gerrors.ErrNotEditable) {
		t.Fatalf("expected not editable, got %v", err)
	}
	if _, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.PackagedDate, Value: "soon"}); !errors.Is(err, gerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.store.updates.Load() != 0 {
		t.Fatal("invalid input must not reach the store")
	}
}

func TestAuditFailureDoesNotFailCommit(t *testing.T) {
	store := adapter.NewInMemoryStore()
	_, _ = store.Insert(context.Background(), []record.Record{gummies()})
	p := New(store, WithAudit(failingSink{}))
	if _, err := p.Commit(context.Background(), Input{RecordID: "r1", Field: record.Product, Value: "x"}); err != nil {
		t.Fatalf("audit failure leaked: %v", err)
	}
}

type failingSink struct{}

func (failingSink) Append(context.Context, audit.Entry) error { return errors.New("audit down") }

func TestConcurrentCommitsOnOneRecordKeepEveryLock(t *testing.T) {
	f := newFixture(t, gummies())
	fields := []record.Field{record.Category, record.Strain, record.Reason, record.Lab, record.StagingNotes}
	var wg sync.WaitGroup
	for _, fld := range fields {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.p.Commit(context.Background(), Input{RecordID: "r1", Field: fld, Value: "v"}); err != nil {
				t.Errorf("commit %s: %v", fld, err)
			}
		}()
	}
	wg.Wait()
	r, _, _ := f.store.Get(context.Background(), "r1")
	for _, fld := range fields {
		if !r.LockedCells[fld].Locked {
			t.Fatalf("lost lock descriptor for %s: %v", fld, r.LockedCells)
		}
	}
}
