package main

import (
	"context"

	"github.com/mirkobrombin/go-gracelock/v1/core"
	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// Cell states as shown to users.
const (
	cellOpen   = "open"
	cellGrace  = "grace"
	cellLocked = "locked"
)

type cellView struct {
	State     string `json:"state"`
	Countdown string `json:"countdown,omitempty"`
	Tooltip   string `json:"tooltip,omitempty"`
	Editable  bool   `json:"editable"`
}

type rowView struct {
	ID        string                    `json:"id"`
	Number    int                       `json:"number,omitempty"`
	Duplicate bool                      `json:"is_duplicate,omitempty"`
	Locked    bool                      `json:"is_locked"`
	Values    map[record.Field]any      `json:"values"`
	Colors    record.Colors             `json:"colors,omitempty"`
	Cells     map[record.Field]cellView `json:"cells"`
}

func viewCell(ctx context.Context, tr *core.Tracker, r record.Record, f record.Field) cellView {
	v := cellView{Editable: tr.IsEditable(ctx, r.ID, f)}
	switch {
	case tr.IsLocked(ctx, r.ID, f):
		v.State = cellLocked
	case r.LockedCells[f].Locked:
		v.State = cellGrace
		if secs, ok := tr.Countdown(r.ID, f); ok {
			v.Countdown = grace.FormatCountdown(secs)
		}
	default:
		v.State = cellOpen
	}
	v.Tooltip = tr.Tooltip(ctx, r.ID, f)
	return v
}

func viewRow(ctx context.Context, tr *core.Tracker, r record.Record, number int) rowView {
	row := rowView{
		ID:        r.ID,
		Number:    number,
		Duplicate: r.IsDuplicate,
		Locked:    r.Locked,
		Values:    r.Values,
		Colors:    r.Colors,
		Cells:     make(map[record.Field]cellView, len(record.Fields)),
	}
	for _, f := range record.Fields {
		row.Cells[f] = viewCell(ctx, tr, r, f)
	}
	return row
}
