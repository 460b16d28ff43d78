package core

import (
	"context"
	"fmt"

	"github.com/mirkobrombin/go-gracelock/v1/commit"
	"github.com/mirkobrombin/go-gracelock/v1/confirm"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/reference"
)

// BeginEdit proposes value for a cell and opens the confirmation flow.
// Weight edits carry the estimated units derived from the row product.
func (t *Tracker) BeginEdit(ctx context.Context, recordID string, field record.Field, value any) (confirm.State, error) {
	st, err := t.beginEdit(ctx, recordID, field, value)
	if err != nil {
		metrics.ConfirmCounter.WithLabelValues("rejected").Inc()
		return st, err
	}
	metrics.ConfirmCounter.WithLabelValues("start").Inc()
	return st, nil
}

func (t *Tracker) beginEdit(ctx context.Context, recordID string, field record.Field, value any) (confirm.State, error) {
	if err := identity.Require(t.ident.Tier().CanEdit(), "edit"); err != nil {
		return t.State(), err
	}
	if _, err := record.ParseField(string(field)); err != nil {
		return t.State(), err
	}
	r, err := t.current(ctx, recordID)
	if err != nil {
		return t.State(), err
	}
	if !t.ledger.IsEditable(r, field) {
		return t.State(), fmt.Errorf("%s of %s: %w", field, recordID, gerrors.ErrNotEditable)
	}
	if _, err := record.Normalize(field, value); err != nil {
		return t.State(), err
	}

	e := confirm.Edit{RecordID: recordID, Field: field, Value: value}
	if field == record.Weight && !record.IsNull(r.Value(record.Product)) {
		est := reference.EstimateUnits(ctx, t.lookup, value, r.Value(record.Product))
		e.Derived = &est
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := confirm.Start(t.flow, e)
	if err != nil {
		return t.flow, err
	}
	t.flow = next
	return next, nil
}

// Affirm answers yes to the current prompt. The third affirmation commits
// the pending edit; the flow is back at Idle once Affirm returns, whether
// the commit succeeded or not.
func (t *Tracker) Affirm(ctx context.Context) (confirm.State, error) {
	t.mu.Lock()
	next, act, err := confirm.Affirm(t.flow)
	t.flow = next
	t.mu.Unlock()
	if err != nil {
		metrics.ConfirmCounter.WithLabelValues("rejected").Inc()
		return next, err
	}
	metrics.ConfirmCounter.WithLabelValues("affirm").Inc()
	if !act.Commit {
		return next, nil
	}

	// a dismissed dialog must not abort a write already sent
	_, err = t.pipeline.Commit(context.WithoutCancel(ctx), commit.Input{
		RecordID: act.Edit.RecordID,
		Field:    act.Edit.Field,
		Value:    act.Edit.Value,
		Derived:  act.Edit.Derived,
		User:     t.ident.CurrentUser(),
	})

	t.mu.Lock()
	t.flow = confirm.Complete(t.flow)
	st := t.flow
	t.mu.Unlock()
	if err != nil {
		t.logger.Warn("gracelock: commit failed", "record", act.Edit.RecordID, "field", act.Edit.Field, "error", err)
		return st, err
	}
	return st, nil
}

// Cancel discards the pending edit.
func (t *Tracker) Cancel() (confirm.State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := confirm.Cancel(t.flow)
	if err != nil {
		metrics.ConfirmCounter.WithLabelValues("rejected").Inc()
		return t.flow, err
	}
	metrics.ConfirmCounter.WithLabelValues("cancel").Inc()
	t.flow = next
	return next, nil
}

// State returns the confirmation flow state.
func (t *Tracker) State() confirm.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flow
}

// IsEditable reports whether the signed-in user may edit the cell now.
func (t *Tracker) IsEditable(ctx context.Context, recordID string, field record.Field) bool {
	if !t.ident.Tier().CanEdit() {
		return false
	}
	r, err := t.current(ctx, recordID)
	if err != nil {
		return false
	}
	return t.ledger.IsEditable(r, field)
}

// IsLocked reports whether the cell is permanently locked. Records missing
// from the projection are read from the store, so an evicted entry never
// reports a locked cell as open.
func (t *Tracker) IsLocked(ctx context.Context, recordID string, field record.Field) bool {
	r, err := t.current(ctx, recordID)
	if err != nil {
		return false
	}
	return t.ledger.Locked(r, field)
}

// Countdown returns the seconds left in the grace window of a cell.
func (t *Tracker) Countdown(recordID string, field record.Field) (int, bool) {
	return t.timers.Remaining(grace.Key{RecordID: recordID, Field: field})
}

// Tooltip describes the lock of a cell. Cells without a persisted lock
// have none.
func (t *Tracker) Tooltip(ctx context.Context, recordID string, field record.Field) string {
	r, err := t.current(ctx, recordID)
	if err != nil || !r.LockedCells[field].Locked {
		return ""
	}
	secs, active := t.Countdown(recordID, field)
	return grace.Tooltip(secs, active)
}

// current returns the projected record, loading it from the store when
// the projection does not hold it.
func (t *Tracker) current(ctx context.Context, id string) (record.Record, error) {
	if r, ok, err := t.ledger.Get(ctx, id); err == nil && ok {
		return r, nil
	}
	r, err := t.fetch(ctx, id)
	if err != nil {
		return record.Record{}, err
	}
	if err := t.ledger.Put(ctx, r); err != nil {
		t.logger.Warn("gracelock: projection update failed", "record", id, "error", err)
	}
	t.show(id)
	t.timers.Rebuild([]record.Record{r}, t.now())
	return r, nil
}
