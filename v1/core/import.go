package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-gracelock/v1/audit"
	"github.com/mirkobrombin/go-gracelock/v1/commit"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/reference"
)

// importWorkers bounds concurrent unit of measure lookups during an import.
const importWorkers = 8

// ImportBatch is a parsed spreadsheet ready to be stored.
type ImportBatch struct {
	FileName string
	// Rows hold the mapped columns of every spreadsheet row.
	Rows []map[record.Field]any
	// Lock commits every non-empty mapped cell on import.
	Lock bool
}

// Import stores a spreadsheet as new records in a single insert. Zero and
// empty cells are stored as null; the plan year is the current year, the
// pack year follows the packaged date and estimated units are derived
// from weight and product. Locked imports start the grace window of every
// locked cell.
func (t *Tracker) Import(ctx context.Context, b ImportBatch) ([]record.Record, error) {
	tier := t.ident.Tier()
	if err := identity.Require(tier.CanImport(), "import"); err != nil {
		return nil, err
	}
	if b.Lock {
		if err := identity.Require(tier.CanLockOnImport(), "lock on import"); err != nil {
			return nil, err
		}
	}
	if len(b.Rows) == 0 {
		return nil, fmt.Errorf("import %s: no rows: %w", b.FileName, gerrors.ErrValidation)
	}

	now := t.now()
	user := t.ident.CurrentUser()
	recs := make([]record.Record, len(b.Rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importWorkers)
	for i, row := range b.Rows {
		g.Go(func() error {
			r, err := t.importRow(gctx, row, b.Lock, now)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			r.UpdatedBy = user
			r.UpdatedAt = now
			recs[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("import %s: %w", b.FileName, err)
	}

	stored, err := t.store.Insert(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w: %w", b.FileName, gerrors.ErrPersistence, err)
	}
	t.appendAudit(ctx, audit.ActionSubmission, map[string]any{
		"file_name": b.FileName,
		"row_count": len(stored),
	})
	if b.Lock {
		t.timers.Rebuild(stored, now)
	}
	for _, r := range stored {
		t.announce(ctx, r.ID)
	}
	return stored, nil
}

func (t *Tracker) importRow(ctx context.Context, row map[record.Field]any, lockCells bool, now time.Time) (record.Record, error) {
	r := record.Record{
		ID:          uuid.NewString(),
		Values:      make(map[record.Field]any, len(row)+3),
		LockedCells: record.LockedCells{},
		Colors:      record.Colors{},
	}
	for f, v := range row {
		if _, err := record.ParseField(string(f)); err != nil {
			return record.Record{}, err
		}
		if n, ok := record.ToFloat(v); ok && n == 0 {
			continue
		}
		nv, err := record.Normalize(f, v)
		if err != nil {
			return record.Record{}, err
		}
		if nv == nil {
			continue
		}
		r.Values[f] = nv
		if lockCells {
			r.LockedCells[f] = record.LockDescriptor{Locked: true, Timestamp: now}
		}
	}

	r.Values[record.PlanYear] = float64(now.Year())
	delete(r.Values, record.PackYear)
	if d, ok := record.ParseDate(r.Values[record.PackagedDate]); ok {
		r.Values[record.PackYear] = float64(d.Year())
		r.Colors[record.WeekStartDate] = commit.PackagedMarker
	}
	delete(r.Values, record.EstUnits)
	if est := reference.EstimateUnits(ctx, t.lookup, r.Values[record.Weight], r.Values[record.Product]); est > 0 {
		r.Values[record.EstUnits] = est
	}
	r.Locked, r.LockTimestamp = record.LockState(r.Values, r.LockedCells, false, nil, now)
	return r, ctx.Err()
}
