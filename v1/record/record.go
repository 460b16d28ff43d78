// Package record defines the batch tracker row, its per-cell lock
// descriptors and the fully-locked predicate shared by every store.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
)

// DateLayout is the storage layout of date fields.
const DateLayout = "2006-01-02"

// LockDescriptor records whether a cell was committed and when.
type LockDescriptor struct {
	Locked    bool      `json:"locked"`
	Timestamp time.Time `json:"timestamp"`
}

// LockedCells maps a field to its lock descriptor.
type LockedCells map[Field]LockDescriptor

// Clone returns a copy of c. A nil map stays nil.
func (c LockedCells) Clone() LockedCells {
	if c == nil {
		return nil
	}
	out := make(LockedCells, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Colors maps a field to a display colour override.
type Colors map[Field]string

// Clone returns a copy of c. A nil map stays nil.
func (c Colors) Clone() Colors {
	if c == nil {
		return nil
	}
	out := make(Colors, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Record is one production/packaging batch row.
type Record struct {
	ID            string
	Values        map[Field]any
	LockedCells   LockedCells
	Locked        bool
	LockTimestamp *time.Time
	Colors        Colors
	IsDuplicate   bool
	UpdatedBy     string
	UpdatedAt     time.Time
	CreatedAt     time.Time
}

// Value returns the normalized value of f, or nil.
func (r Record) Value(f Field) any {
	if r.Values == nil {
		return nil
	}
	return r.Values[f]
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Values != nil {
		out.Values = make(map[Field]any, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	out.LockedCells = r.LockedCells.Clone()
	out.Colors = r.Colors.Clone()
	if r.LockTimestamp != nil {
		ts := *r.LockTimestamp
		out.LockTimestamp = &ts
	}
	return out
}

// FullyLocked reports whether every non-null field of r has a locked
// descriptor.
func (r Record) FullyLocked() bool {
	return FullyLocked(r.Values, r.LockedCells)
}

// FullyLocked evaluates the lock predicate over the fixed field set. Null
// fields are vacuously locked.
func FullyLocked(values map[Field]any, cells LockedCells) bool {
	for _, f := range Fields {
		if IsNull(values[f]) {
			continue
		}
		if !cells[f].Locked {
			return false
		}
	}
	return true
}

// LockState evaluates the fully-locked predicate for values and cells. The
// returned timestamp moves to now only when the record turns fully locked;
// in every other case prev is kept.
func LockState(values map[Field]any, cells LockedCells, wasLocked bool, prev *time.Time, now time.Time) (bool, *time.Time) {
	locked := FullyLocked(values, cells)
	if locked && !wasLocked {
		return true, Time(now)
	}
	return locked, prev
}

// IsNull reports whether v counts as an empty cell.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []byte:
		return len(strings.TrimSpace(string(t))) == 0
	}
	return false
}

// Normalize coerces v into the canonical representation of f: float64 for
// numbers, "YYYY-MM-DD" strings for dates and strings for text. Empty
// input becomes nil.
func Normalize(f Field, v any) (any, error) {
	if IsNull(v) {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch f.Kind() {
	case KindNumber:
		n, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s: %v is not a number: %w", f, v, gerrors.ErrValidation)
		}
		return n, nil
	case KindDate:
		d, ok := ParseDate(v)
		if !ok {
			return nil, fmt.Errorf("%s: %v is not a date: %w", f, v, gerrors.ErrValidation)
		}
		return d.Format(DateLayout), nil
	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case time.Time:
			return t.Format(DateLayout), nil
		default:
			return fmt.Sprint(t), nil
		}
	}
}

// ToFloat converts numeric values and numeric strings to float64.
func ToFloat(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int32:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		n = f
	case []byte:
		return ToFloat(string(t))
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// ParseDate accepts time.Time values, "YYYY-MM-DD" strings and RFC 3339
// timestamps.
func ParseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.Parse(DateLayout, s); err == nil {
			return d, true
		}
		if d, err := time.Parse(time.RFC3339, s); err == nil {
			return d, true
		}
		if len(s) >= len(DateLayout) {
			if d, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
				return d, true
			}
		}
	}
	return time.Time{}, false
}
