package record

import "time"

// Patch is a partial update of a record. Nil maps and pointers leave the
// corresponding column untouched; a nil entry in Values clears the field.
type Patch struct {
	Values        map[Field]any
	LockedCells   LockedCells
	Colors        Colors
	Locked        *bool
	LockTimestamp *time.Time
	IsDuplicate   *bool
	UpdatedBy     string
	UpdatedAt     time.Time
}

// Set records a value change.
func (p *Patch) Set(f Field, v any) {
	if p.Values == nil {
		p.Values = make(map[Field]any)
	}
	p.Values[f] = v
}

// Merge folds o into p. Entries in o win.
func (p *Patch) Merge(o Patch) {
	for f, v := range o.Values {
		p.Set(f, v)
	}
	if o.LockedCells != nil {
		p.LockedCells = o.LockedCells
	}
	if o.Colors != nil {
		p.Colors = o.Colors
	}
	if o.Locked != nil {
		p.Locked = o.Locked
	}
	if o.LockTimestamp != nil {
		p.LockTimestamp = o.LockTimestamp
	}
	if o.IsDuplicate != nil {
		p.IsDuplicate = o.IsDuplicate
	}
	if o.UpdatedBy != "" {
		p.UpdatedBy = o.UpdatedBy
	}
	if !o.UpdatedAt.IsZero() {
		p.UpdatedAt = o.UpdatedAt
	}
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return len(p.Values) == 0 && p.LockedCells == nil && p.Colors == nil &&
		p.Locked == nil && p.LockTimestamp == nil && p.IsDuplicate == nil
}

// Apply returns a copy of r with p applied.
func (p Patch) Apply(r Record) Record {
	out := r.Clone()
	if len(p.Values) > 0 && out.Values == nil {
		out.Values = make(map[Field]any, len(p.Values))
	}
	for f, v := range p.Values {
		if v == nil {
			delete(out.Values, f)
			continue
		}
		out.Values[f] = v
	}
	if p.LockedCells != nil {
		out.LockedCells = p.LockedCells.Clone()
	}
	if p.Colors != nil {
		out.Colors = p.Colors.Clone()
	}
	if p.Locked != nil {
		out.Locked = *p.Locked
	}
	if p.LockTimestamp != nil {
		ts := *p.LockTimestamp
		out.LockTimestamp = &ts
	}
	if p.IsDuplicate != nil {
		out.IsDuplicate = *p.IsDuplicate
	}
	if p.UpdatedBy != "" {
		out.UpdatedBy = p.UpdatedBy
	}
	if !p.UpdatedAt.IsZero() {
		out.UpdatedAt = p.UpdatedAt
	}
	return out
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }
