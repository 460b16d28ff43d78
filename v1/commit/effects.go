package commit

import (
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// PackagedMarker is the colour set on week_start_date while a packaged date
// is present.
const PackagedMarker = "#e6ccff"

// Effect is what an edit implies beyond the edited cell: extra column
// changes and the derived cells locked together with it.
type Effect struct {
	Patch record.Patch
	Lock  []record.Field
}

// SideEffect computes the Effect of committing in against cur.
type SideEffect func(in Input, cur record.Record) Effect

// SideEffects lists the fields whose edits touch other columns.
var SideEffects = map[record.Field]SideEffect{
	record.PackagedDate: packagedDate,
	record.Weight:       estimatedUnits,
}

// packagedDate derives pack_year from the date and marks week_start_date.
func packagedDate(in Input, cur record.Record) Effect {
	var p record.Patch
	colors := cur.Colors.Clone()
	if colors == nil {
		colors = make(record.Colors)
	}
	if d, ok := record.ParseDate(in.Value); ok {
		p.Set(record.PackYear, float64(d.Year()))
		colors[record.WeekStartDate] = PackagedMarker
	} else {
		p.Set(record.PackYear, nil)
		delete(colors, record.WeekStartDate)
	}
	p.Colors = colors
	return Effect{Patch: p}
}

// estimatedUnits writes the value derived when the edit was proposed.
func estimatedUnits(in Input, _ record.Record) Effect {
	if in.Derived == nil {
		return Effect{}
	}
	var p record.Patch
	p.Set(record.EstUnits, *in.Derived)
	return Effect{Patch: p, Lock: []record.Field{record.EstUnits}}
}
