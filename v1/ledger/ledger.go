// Package ledger keeps the session's projection of the records on screen
// and answers lock questions against it. A persisted lock only takes
// effect once the grace timer of the cell is gone.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/cache"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// GraceChecker reports whether a cell is still inside its grace window.
type GraceChecker interface {
	Active(recordID string, field record.Field) bool
}

type noGrace struct{}

func (noGrace) Active(string, record.Field) bool { return false }

// Ledger is the lock-aware projection of records.
type Ledger struct {
	cache cache.Cache[record.Record]
	grace GraceChecker
	ttl   time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL expires projection entries after d. Zero keeps them until
// invalidated.
func WithTTL(d time.Duration) Option {
	return func(l *Ledger) { l.ttl = d }
}

// New returns a Ledger storing records in c. A nil c uses an in-memory
// cache; a nil g treats every cell as having no grace timer.
func New(c cache.Cache[record.Record], g GraceChecker, opts ...Option) *Ledger {
	if c == nil {
		c = cache.NewInMemory[record.Record]()
	}
	if g == nil {
		g = noGrace{}
	}
	l := &Ledger{cache: c, grace: g}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns a copy of the projected record.
func (l *Ledger) Get(ctx context.Context, id string) (record.Record, bool, error) {
	r, ok, err := l.cache.Get(ctx, id)
	if err != nil || !ok {
		return record.Record{}, false, err
	}
	return r.Clone(), true, nil
}

// Put replaces the projected record.
func (l *Ledger) Put(ctx context.Context, r record.Record) error {
	return l.cache.Set(ctx, r.ID, r.Clone(), l.ttl)
}

// PutAll replaces every record in rs.
func (l *Ledger) PutAll(ctx context.Context, rs []record.Record) error {
	for _, r := range rs {
		if err := l.Put(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops a record from the projection.
func (l *Ledger) Invalidate(ctx context.Context, id string) error {
	return l.cache.Invalidate(ctx, id)
}

// IsLocked reports whether field of record id is persisted as locked and
// has no running grace timer. Unknown records are not locked.
func (l *Ledger) IsLocked(ctx context.Context, id string, field record.Field) bool {
	r, ok, err := l.cache.Get(ctx, id)
	if err != nil || !ok {
		return false
	}
	return l.Locked(r, field)
}

// Locked is IsLocked for a record the caller already holds.
func (l *Ledger) Locked(r record.Record, field record.Field) bool {
	return r.LockedCells[field].Locked && !l.grace.Active(r.ID, field)
}

// IsEditable reports whether field of r may be edited. Estimated units are
// always derived; duplicated rows are always editable.
func (l *Ledger) IsEditable(r record.Record, field record.Field) bool {
	if field == record.EstUnits {
		return false
	}
	return r.IsDuplicate || !l.Locked(r, field)
}

// SetLock writes a locked descriptor for field into the projected record
// and recomputes the record level lock state. It touches the projection
// only: the commit pipeline persists descriptors itself and then replaces
// the projected record with the stored row through Put.
func (l *Ledger) SetLock(ctx context.Context, id string, field record.Field, ts time.Time) error {
	r, ok, err := l.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ledger: record %s: %w", id, gerrors.ErrNotFound)
	}
	r = r.Clone()
	if r.LockedCells == nil {
		r.LockedCells = make(record.LockedCells)
	}
	r.LockedCells[field] = record.LockDescriptor{Locked: true, Timestamp: ts}
	r.Locked, r.LockTimestamp = record.LockState(r.Values, r.LockedCells, r.Locked, r.LockTimestamp, ts)
	return l.cache.Set(ctx, id, r, l.ttl)
}
