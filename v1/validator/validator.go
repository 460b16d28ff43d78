// Package validator periodically compares the session projection with the
// record store. Another session may have written a record without the
// invalidation reaching us; the validator notices the drift and, in
// auto-heal mode, replaces the projected copy.
package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// Mode defines validator behaviour.
type Mode int

const (
	ModeNoop Mode = iota
	ModeAlert
	ModeAutoHeal
)

// ParseMode maps "noop", "alert" and "autoheal" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "noop", "off":
		return ModeNoop, nil
	case "alert":
		return ModeAlert, nil
	case "autoheal", "auto-heal", "heal":
		return ModeAutoHeal, nil
	}
	return ModeNoop, fmt.Errorf("validator: unknown mode %q", s)
}

// Projection is the cached view being checked.
type Projection interface {
	Get(ctx context.Context, id string) (record.Record, bool, error)
	Put(ctx context.Context, r record.Record) error
	Invalidate(ctx context.Context, id string) error
}

// Validator periodically compares projected and stored records.
type Validator struct {
	projection Projection
	store      adapter.RecordStore
	keys       func() []string
	mode       Mode
	interval   time.Duration
	logger     *slog.Logger
	mismatches uint64
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger used for drift alerts.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a new Validator checking the records returned by keys.
func New(p Projection, s adapter.RecordStore, keys func() []string, mode Mode, interval time.Duration, opts ...Option) *Validator {
	v := &Validator{
		projection: p,
		store:      s,
		keys:       keys,
		mode:       mode,
		interval:   interval,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run starts the validation loop.
func (v *Validator) Run(ctx context.Context) {
	if v.store == nil || v.mode == ModeNoop || v.interval <= 0 {
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Scan(ctx)
		}
	}
}

// Scan checks every projected record once and returns the number of
// mismatches found.
func (v *Validator) Scan(ctx context.Context) int {
	found := 0
	for _, id := range v.keys() {
		pv, ok, err := v.projection.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		sv, ok, err := v.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if ok && digest(pv) == digest(sv) {
			continue
		}
		found++
		atomic.AddUint64(&v.mismatches, 1)
		metrics.DriftCounter.Inc()
		switch v.mode {
		case ModeAlert:
			v.logger.Warn("gracelock: projection drift", "record", id, "deleted", !ok)
		case ModeAutoHeal:
			if !ok {
				_ = v.projection.Invalidate(ctx, id)
			} else {
				_ = v.projection.Put(ctx, sv)
			}
		}
	}
	return found
}

// Metrics returns number of mismatches detected.
func (v *Validator) Metrics() uint64 {
	return atomic.LoadUint64(&v.mismatches)
}

type lockView struct {
	Locked    bool   `json:"locked"`
	Timestamp string `json:"timestamp"`
}

// digest hashes the user visible state of r. Timestamps are compared at
// microsecond precision in UTC since SQL stores do not keep more.
func digest(r record.Record) string {
	cells := make(map[record.Field]lockView, len(r.LockedCells))
	for f, d := range r.LockedCells {
		cells[f] = lockView{Locked: d.Locked, Timestamp: stamp(d.Timestamp)}
	}
	var lockTS string
	if r.LockTimestamp != nil {
		lockTS = stamp(*r.LockTimestamp)
	}
	data, _ := json.Marshal(struct {
		Values    map[record.Field]any      `json:"values"`
		Cells     map[record.Field]lockView `json:"cells"`
		Colors    record.Colors             `json:"colors"`
		Locked    bool                      `json:"locked"`
		LockTS    string                    `json:"lock_ts"`
		Duplicate bool                      `json:"duplicate"`
	}{r.Values, cells, r.Colors, r.Locked, lockTS, r.IsDuplicate})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}
