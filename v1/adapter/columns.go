package adapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// sqlTimeLayout keeps text timestamps fixed width so they sort correctly.
const sqlTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// rowEncoding converts records to column maps. Native encodings hand
// time.Time values to the driver; text encodings store formatted strings.
type rowEncoding struct {
	native bool
}

func (e rowEncoding) value(f record.Field, v any) any {
	if v == nil {
		return nil
	}
	if e.native && f.Kind() == record.KindDate {
		if d, ok := record.ParseDate(v); ok {
			return d
		}
	}
	return v
}

func (e rowEncoding) timestamp(t time.Time) any {
	if e.native {
		return t.UTC()
	}
	return t.UTC().Format(sqlTimeLayout)
}

func (e rowEncoding) optTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return e.timestamp(*t)
}

func (e rowEncoding) row(r record.Record) (map[string]any, error) {
	m := make(map[string]any, len(record.Fields)+9)
	m["id"] = r.ID
	for _, f := range record.Fields {
		m[string(f)] = e.value(f, r.Value(f))
	}
	cells, err := record.EncodeLockedCells(r.ID, r.LockedCells)
	if err != nil {
		return nil, err
	}
	colors, err := record.EncodeColors(r.Colors)
	if err != nil {
		return nil, err
	}
	m["locked_cells"] = string(cells)
	m["colors"] = string(colors)
	m["locked"] = r.Locked
	m["lock_timestamp"] = e.optTimestamp(r.LockTimestamp)
	m["is_duplicate"] = r.IsDuplicate
	m["updated_by"] = r.UpdatedBy
	m["updated_at"] = e.timestamp(r.UpdatedAt)
	m["created_at"] = e.timestamp(r.CreatedAt)
	return m, nil
}

func (e rowEncoding) patch(id string, p record.Patch) (map[string]any, error) {
	m := make(map[string]any, len(p.Values)+8)
	for f, v := range p.Values {
		if !f.Valid() {
			return nil, fmt.Errorf("unknown field %q", f)
		}
		m[string(f)] = e.value(f, v)
	}
	if p.LockedCells != nil {
		cells, err := record.EncodeLockedCells(id, p.LockedCells)
		if err != nil {
			return nil, err
		}
		m["locked_cells"] = string(cells)
	}
	if p.Colors != nil {
		colors, err := record.EncodeColors(p.Colors)
		if err != nil {
			return nil, err
		}
		m["colors"] = string(colors)
	}
	if p.Locked != nil {
		m["locked"] = *p.Locked
	}
	if p.LockTimestamp != nil {
		m["lock_timestamp"] = e.timestamp(*p.LockTimestamp)
	}
	if p.IsDuplicate != nil {
		m["is_duplicate"] = *p.IsDuplicate
	}
	if p.UpdatedBy != "" {
		m["updated_by"] = p.UpdatedBy
	}
	if !p.UpdatedAt.IsZero() {
		m["updated_at"] = e.timestamp(p.UpdatedAt)
	}
	return m, nil
}

// decodeRow builds a record from a driver row. It tolerates the value
// types returned by both sqlite and Postgres drivers.
func decodeRow(m map[string]any) record.Record {
	r := record.Record{
		ID:          asString(m["id"]),
		Values:      make(map[record.Field]any),
		LockedCells: record.DecodeLockedCells(jsonBytes(m["locked_cells"])),
		Colors:      record.DecodeColors(jsonBytes(m["colors"])),
		Locked:      asBool(m["locked"]),
		IsDuplicate: asBool(m["is_duplicate"]),
		UpdatedBy:   asString(m["updated_by"]),
	}
	for _, f := range record.Fields {
		v, err := record.Normalize(f, m[string(f)])
		if err == nil && v != nil {
			r.Values[f] = v
		}
	}
	if ts, ok := asTime(m["lock_timestamp"]); ok {
		r.LockTimestamp = &ts
	}
	r.UpdatedAt, _ = asTime(m["updated_at"])
	r.CreatedAt, _ = asTime(m["created_at"])
	return r
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	}
	return false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{sqlTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	case []byte:
		return asTime(string(t))
	}
	return time.Time{}, false
}

func jsonBytes(v any) []byte {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []byte(t)
	case []byte:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return data
	}
}

// createTableSQL renders the DDL of the tracker table. Postgres gets
// native DATE, JSONB and TIMESTAMPTZ columns.
func createTableSQL(table string, postgres bool) string {
	dateType, jsonType, tsType := "TEXT", "TEXT", "TEXT"
	if postgres {
		dateType, jsonType, tsType = "DATE", "JSONB", "TIMESTAMPTZ"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid TEXT PRIMARY KEY", table)
	for _, f := range record.Fields {
		typ := "TEXT"
		switch f.Kind() {
		case record.KindNumber:
			typ = "DOUBLE PRECISION"
		case record.KindDate:
			typ = dateType
		}
		fmt.Fprintf(&b, ",\n\t%s %s", f, typ)
	}
	fmt.Fprintf(&b, ",\n\tlocked_cells %s", jsonType)
	b.WriteString(",\n\tlocked BOOLEAN NOT NULL DEFAULT FALSE")
	fmt.Fprintf(&b, ",\n\tlock_timestamp %s", tsType)
	fmt.Fprintf(&b, ",\n\tcolors %s", jsonType)
	b.WriteString(",\n\tis_duplicate BOOLEAN NOT NULL DEFAULT FALSE")
	b.WriteString(",\n\tupdated_by TEXT")
	fmt.Fprintf(&b, ",\n\tupdated_at %s", tsType)
	fmt.Fprintf(&b, ",\n\tcreated_at %s\n)", tsType)
	return b.String()
}

func createIndexSQL(table string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at)", table, table)
}
