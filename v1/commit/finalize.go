package commit

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/lock"
	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// FinalizeLock makes the lock of field permanent once its grace timer ran
// out. It re-reads the record, leaves it alone when a newer commit started
// another timer, and writes only when the descriptor or the record level
// lock state actually change. Calling it again is a no-op.
func (p *Pipeline) FinalizeLock(ctx context.Context, recordID string, field record.Field) error {
	ctx, span := tracer.Start(ctx, "commit.FinalizeLock", trace.WithAttributes(
		attribute.String("record.id", recordID),
		attribute.String("record.field", string(field)),
	))
	defer span.End()

	var result string
	err := lock.With(ctx, p.locker, lock.RecordKey(recordID), p.lockTTL, func(ctx context.Context) error {
		var err error
		result, err = p.finalize(ctx, recordID, field)
		return err
	})
	if err != nil {
		metrics.FinalizeCounter.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	metrics.FinalizeCounter.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.String("finalize.result", result))
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, recordID string, field record.Field) (string, error) {
	if p.timers != nil && p.timers.Active(recordID, field) {
		return "skipped", nil
	}
	cur, err := p.fetch(ctx, recordID)
	if errors.Is(err, gerrors.ErrStaleRow) {
		// deleted while in grace; nothing left to lock
		if p.ledger != nil {
			_ = p.ledger.Invalidate(ctx, recordID)
		}
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	// a commit may have restarted the timer while we waited for the lock
	if p.timers != nil && p.timers.Active(recordID, field) {
		return "skipped", nil
	}

	now := p.now()
	cells := cur.LockedCells.Clone()
	if cells == nil {
		cells = make(record.LockedCells)
	}
	changed := false
	if d, ok := cells[field]; !ok || !d.Locked {
		if d.Timestamp.IsZero() {
			d.Timestamp = now
		}
		d.Locked = true
		cells[field] = d
		changed = true
	}
	fully, ts := record.LockState(cur.Values, cells, cur.Locked, cur.LockTimestamp, now)
	if fully != cur.Locked {
		changed = true
	}
	if !changed {
		if p.ledger != nil {
			_ = p.ledger.Put(ctx, cur)
		}
		return "unchanged", nil
	}

	patch := record.Patch{
		LockedCells: cells,
		Locked:      record.Bool(fully),
		UpdatedAt:   now,
	}
	if ts != nil {
		patch.LockTimestamp = ts
	}
	updated, err := p.store.Update(ctx, recordID, patch)
	if err != nil {
		if errors.Is(err, gerrors.ErrStaleRow) {
			return "skipped", nil
		}
		return "", fmt.Errorf("finalize %s: %w: %w", recordID, gerrors.ErrPersistence, err)
	}
	p.publish(ctx, updated)
	return "locked", nil
}
