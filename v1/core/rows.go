package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/audit"
	"github.com/mirkobrombin/go-gracelock/v1/commit"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/lock"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// Page is a window of records as shown on the dashboard.
type Page struct {
	Records []record.Record
	// Total counts every record matching the filter.
	Total int
	// Numbers holds the row number of every original record. Duplicates
	// are not numbered.
	Numbers map[string]int
}

// LoadPage queries the store, replaces the projection with the result and
// restarts the grace timers of cells committed less than one window ago.
func (t *Tracker) LoadPage(ctx context.Context, f adapter.Filter, rg adapter.Range) (Page, error) {
	recs, total, err := t.store.Query(ctx, f, rg)
	if err != nil {
		return Page{}, fmt.Errorf("load page: %w: %w", gerrors.ErrPersistence, err)
	}
	if err := t.ledger.PutAll(ctx, recs); err != nil {
		t.logger.Warn("gracelock: projection update failed", "error", err)
	}
	t.timers.Rebuild(recs, t.now())

	p := Page{Records: recs, Total: total, Numbers: make(map[string]int, len(recs))}
	ids := make([]string, 0, len(recs))
	n := rg.Offset + 1
	for _, r := range recs {
		ids = append(ids, r.ID)
		if r.IsDuplicate {
			continue
		}
		p.Numbers[r.ID] = n
		n++
	}
	t.mu.Lock()
	t.onPage = make(map[string]struct{}, len(ids))
	t.mu.Unlock()
	t.show(ids...)
	return p, nil
}

// Record returns the projected copy of a record.
func (t *Tracker) Record(ctx context.Context, id string) (record.Record, bool, error) {
	return t.ledger.Get(ctx, id)
}

// clearColors remove the colour override of a cell.
var clearColors = []string{"transparent", "#ffffff"}

// ColorChange sets the colour of one cell.
type ColorChange struct {
	RecordID string
	Field    record.Field
	Color    string
}

// ChangeColors applies colour overrides, one write per record in the order
// the records first appear. It stops at the first failure; records
// written before it keep their new colours.
func (t *Tracker) ChangeColors(ctx context.Context, changes []ColorChange) error {
	if err := identity.Require(t.ident.Tier().CanEdit(), "change colours"); err != nil {
		return err
	}
	var order []string
	byRecord := make(map[string][]ColorChange)
	for _, c := range changes {
		if _, err := record.ParseField(string(c.Field)); err != nil {
			return err
		}
		if _, ok := byRecord[c.RecordID]; !ok {
			order = append(order, c.RecordID)
		}
		byRecord[c.RecordID] = append(byRecord[c.RecordID], c)
	}
	for _, id := range order {
		err := lock.With(ctx, t.locker, lock.RecordKey(id), commit.DefaultLockTTL, func(ctx context.Context) error {
			return t.recolor(ctx, id, byRecord[id])
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) recolor(ctx context.Context, id string, changes []ColorChange) error {
	cur, err := t.fetch(ctx, id)
	if err != nil {
		return err
	}
	colors := cur.Colors.Clone()
	if colors == nil {
		colors = make(record.Colors)
	}
	for _, c := range changes {
		if isClearColor(c.Color) {
			delete(colors, c.Field)
			continue
		}
		colors[c.Field] = c.Color
	}
	updated, err := t.store.Update(ctx, id, record.Patch{
		Colors:    colors,
		UpdatedBy: t.ident.CurrentUser(),
		UpdatedAt: t.now(),
	})
	if err != nil {
		return writeError(id, err)
	}
	t.appendAudit(ctx, audit.ActionColorChange, map[string]any{
		"row_id": id,
		"changes": map[string]any{
			"colors": audit.Change{Old: cur.Colors, New: colors},
		},
	})
	t.publish(ctx, updated)
	return nil
}

func isClearColor(c string) bool {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, cc := range clearColors {
		if c == cc {
			return true
		}
	}
	return c == ""
}

// DuplicateRow inserts an editable copy of a record without its
// production plan and returns it.
func (t *Tracker) DuplicateRow(ctx context.Context, id string) (record.Record, error) {
	if err := identity.Require(t.ident.Tier().CanDuplicate(), "duplicate"); err != nil {
		return record.Record{}, err
	}
	cur, err := t.fetch(ctx, id)
	if err != nil {
		return record.Record{}, err
	}
	dup := cur.Clone()
	dup.ID = ""
	delete(dup.Values, record.ProductionPlan)
	dup.IsDuplicate = true
	dup.LockedCells = record.LockedCells{}
	dup.Locked = false
	dup.LockTimestamp = nil
	dup.UpdatedBy = t.ident.CurrentUser()
	dup.UpdatedAt = t.now()
	dup.CreatedAt = t.now()

	stored, err := t.store.Insert(ctx, []record.Record{dup})
	if err != nil {
		return record.Record{}, fmt.Errorf("duplicate %s: %w: %w", id, gerrors.ErrPersistence, err)
	}
	out := stored[0]
	t.appendAudit(ctx, audit.ActionDuplicateRow, map[string]any{
		"original_row_id": id,
		"new_row_id":      out.ID,
	})
	t.show(out.ID)
	t.publish(ctx, out)
	return out, nil
}

// DeleteRow removes a record along with its timers and projected copy.
func (t *Tracker) DeleteRow(ctx context.Context, id string) error {
	if err := identity.Require(t.ident.Tier().CanDelete(), "delete"); err != nil {
		return err
	}
	err := lock.With(ctx, t.locker, lock.RecordKey(id), commit.DefaultLockTTL, func(ctx context.Context) error {
		if err := t.store.Delete(ctx, id); err != nil {
			return writeError(id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.forget(ctx, id)
	t.appendAudit(ctx, audit.ActionDeleteRow, map[string]any{"row_id": id})
	t.announce(ctx, id)
	return nil
}

// writeError keeps stale rows distinguishable from storage failures.
func writeError(id string, err error) error {
	if errors.Is(err, gerrors.ErrStaleRow) {
		return err
	}
	return fmt.Errorf("write %s: %w: %w", id, gerrors.ErrPersistence, err)
}
