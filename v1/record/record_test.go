package record

import (
	"errors"
	"testing"
	"time"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
)

func TestFieldsAreValidAndUnique(t *testing.T) {
	if len(Fields) != 31 {
		t.Fatalf("expected 31 fields, got %d", len(Fields))
	}
	seen := map[Field]bool{}
	for _, f := range Fields {
		if !f.Valid() {
			t.Fatalf("field %s not valid", f)
		}
		if seen[f] {
			t.Fatalf("duplicate field %s", f)
		}
		seen[f] = true
	}
	if Field("id").Valid() {
		t.Fatal("id must not be a data field")
	}
}

func TestFullyLocked(t *testing.T) {
	now := time.Now()
	values := map[Field]any{Product: "Gummies", Weight: 12.0}
	cells := LockedCells{Product: {Locked: true, Timestamp: now}}
	if FullyLocked(values, cells) {
		t.Fatal("wt is set but not locked")
	}
	cells[Weight] = LockDescriptor{Locked: true, Timestamp: now}
	if !FullyLocked(values, cells) {
		t.Fatal("every non-null field is locked")
	}
	values[Lab] = ""
	if !FullyLocked(values, cells) {
		t.Fatal("empty fields are vacuously locked")
	}
	if !FullyLocked(nil, nil) {
		t.Fatal("empty record is vacuously locked")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		f    Field
		in   any
		want any
	}{
		{Weight, "12.5", 12.5},
		{Weight, 3, 3.0},
		{Weight, "", nil},
		{PackagedDate, "2024-03-05", "2024-03-05"},
		{PackagedDate, "2024-03-05T10:00:00Z", "2024-03-05"},
		{PackagedDate, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), "2023-01-02"},
		{Product, "Vape", "Vape"},
		{Product, 7.0, "7"},
		{Lab, nil, nil},
	}
	for _, c := range cases {
		got, err := Normalize(c.f, c.in)
		if err != nil {
			t.Fatalf("Normalize(%s, %v): %v", c.f, c.in, err)
		}
		if got != c.want {
			t.Fatalf("Normalize(%s, %v) = %v, want %v", c.f, c.in, got, c.want)
		}
	}
	if _, err := Normalize(Weight, "heavy"); !errors.Is(err, gerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := Normalize(SampleDate, "yesterday"); !errors.Is(err, gerrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := Record{ID: "r1", Values: map[Field]any{Product: "A", Lab: "X"}}
	var p Patch
	p.Set(Product, "B")
	p.Set(Lab, nil)
	p.LockedCells = LockedCells{Product: {Locked: true, Timestamp: ts}}
	p.Locked = Bool(true)
	p.LockTimestamp = Time(ts)

	out := p.Apply(r)
	if out.Value(Product) != "B" || out.Value(Lab) != nil {
		t.Fatalf("unexpected values %v", out.Values)
	}
	if !out.Locked || !out.LockTimestamp.Equal(ts) {
		t.Fatalf("lock state not applied: %+v", out)
	}
	if r.Value(Product) != "A" {
		t.Fatal("Apply must not mutate the input")
	}
}

func TestLockedCellsCodec(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := EncodeLockedCells("row-1", LockedCells{Weight: {Locked: true, Timestamp: ts}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"row-1:wt":{"locked":true,"timestamp":"2024-05-01T12:00:00Z"}}` {
		t.Fatalf("unexpected encoding %s", data)
	}
	cells := DecodeLockedCells(data)
	if d := cells[Weight]; !d.Locked || !d.Timestamp.Equal(ts) {
		t.Fatalf("decode: %+v", cells)
	}

	quoted := []byte(`"{\"lab\":{\"locked\":true,\"timestamp\":\"2024-05-01T12:00:00.000Z\"}}"`)
	if d := DecodeLockedCells(quoted)[Lab]; !d.Locked {
		t.Fatalf("string-wrapped column not decoded: %+v", d)
	}
	if got := DecodeLockedCells([]byte("{broken")); len(got) != 0 {
		t.Fatalf("expected empty map on bad input, got %v", got)
	}
}

func TestMapHeaders(t *testing.T) {
	m, err := MapHeaders([]string{"Product", "Packaged Date", "wt", "Notes"})
	if err != nil {
		t.Fatalf("MapHeaders: %v", err)
	}
	if m["Packaged Date"] != PackagedDate || m["wt"] != Weight {
		t.Fatalf("unexpected mapping %v", m)
	}
	if _, ok := m["Notes"]; ok {
		t.Fatal("unknown header must be skipped")
	}
	if _, err := MapHeaders([]string{"wt", "Weight"}); !errors.Is(err, gerrors.ErrValidation) {
		t.Fatalf("expected duplicate mapping error, got %v", err)
	}
	if _, err := MapHeaders([]string{"foo"}); !errors.Is(err, gerrors.ErrValidation) {
		t.Fatalf("expected no-columns error, got %v", err)
	}
}

func TestLockStateTimestampMovesOnlyOnTransition(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	prev := now.Add(-time.Hour)
	values := map[Field]any{Product: "Gummies", Weight: 50.0}
	cells := LockedCells{Product: {Locked: true, Timestamp: prev}}

	locked, ts := LockState(values, cells, false, &prev, now)
	if locked || ts != &prev {
		t.Fatalf("partially locked record must keep its timestamp, got %v %v", locked, ts)
	}

	cells[Weight] = LockDescriptor{Locked: true, Timestamp: now}
	locked, ts = LockState(values, cells, false, &prev, now)
	if !locked || ts == nil || !ts.Equal(now) {
		t.Fatalf("expected transition to stamp now, got %v %v", locked, ts)
	}

	later := now.Add(time.Minute)
	locked, ts = LockState(values, cells, true, &now, later)
	if !locked || !ts.Equal(now) {
		t.Fatalf("already locked record must keep its timestamp, got %v", ts)
	}
}
