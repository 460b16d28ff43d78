package commit

import (
	"context"
	"testing"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

func TestFinalizeLockIsIdempotent(t *testing.T) {
	stamp := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, record.Record{
		ID:            "r1",
		Values:        map[record.Field]any{record.Product: "Gummies"},
		LockedCells:   record.LockedCells{record.Product: {Locked: true, Timestamp: stamp}},
		Locked:        true,
		LockTimestamp: record.Time(stamp),
	})
	ctx := context.Background()
	before, _, _ := f.store.Get(ctx, "r1")

	for i := 0; i < 2; i++ {
		if err := f.p.FinalizeLock(ctx, "r1", record.Product); err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
	}
	if n := f.store.updates.Load(); n != 0 {
		t.Fatalf("fully locked record must not be rewritten, got %d updates", n)
	}
	after, _, _ := f.store.Get(ctx, "r1")
	if !after.LockedCells[record.Product].Timestamp.Equal(before.LockedCells[record.Product].Timestamp) {
		t.Fatal("finalize moved the descriptor timestamp")
	}
}

func TestFinalizeLocksMissingDescriptorOnce(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()

	if err := f.p.FinalizeLock(ctx, "r1", record.Product); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	r, _, _ := f.store.Get(ctx, "r1")
	if d := r.LockedCells[record.Product]; !d.Locked || !d.Timestamp.Equal(f.now) {
		t.Fatalf("expected descriptor locked at %v, got %+v", f.now, d)
	}
	if r.Locked {
		t.Fatal("weight is still unlocked, record must not be fully locked")
	}
	f.now = f.now.Add(time.Minute)
	if err := f.p.FinalizeLock(ctx, "r1", record.Product); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if n := f.store.updates.Load(); n != 1 {
		t.Fatalf("expected a single write, got %d", n)
	}
	if !f.ledger.IsLocked(ctx, "r1", record.Product) {
		t.Fatal("ledger must see the finalized lock")
	}
}

func TestFinalizeSkipsWhenTimerRestarted(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()
	f.timers.Register(grace.Key{RecordID: "r1", Field: record.Product}, 300)
	if err := f.p.FinalizeLock(ctx, "r1", record.Product); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if f.store.updates.Load() != 0 {
		t.Fatal("finalize must not write while a newer timer runs")
	}
}

func TestFinalizeDeletedRecord(t *testing.T) {
	f := newFixture(t)
	if err := f.p.FinalizeLock(context.Background(), "gone", record.Product); err != nil {
		t.Fatalf("finalize of a deleted record must be a no-op, got %v", err)
	}
}

func TestGraceExpiryLocksCell(t *testing.T) {
	f := newFixture(t, gummies())
	ctx := context.Background()
	if _, err := f.p.Commit(ctx, Input{RecordID: "r1", Field: record.Product, Value: "Chews"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if f.ledger.IsLocked(ctx, "r1", record.Product) {
		t.Fatal("cell must be editable during grace")
	}
	for i := 0; i < f.timers.Seconds(); i++ {
		f.timers.Tick(ctx)
	}
	f.timers.Wait()
	if !f.ledger.IsLocked(ctx, "r1", record.Product) {
		t.Fatal("cell must be locked once the grace window ends")
	}
	r, _, _ := f.ledger.Get(ctx, "r1")
	if f.ledger.IsEditable(r, record.Product) {
		t.Fatal("locked cell must not be editable")
	}
}
