package record

import (
	"encoding/json"
	"strings"
	"time"
)

// EncodeLockedCells serializes cells in the persisted form, keyed by
// "<recordID>:<field>".
func EncodeLockedCells(recordID string, cells LockedCells) ([]byte, error) {
	out := make(map[string]LockDescriptor, len(cells))
	for f, d := range cells {
		out[recordID+":"+string(f)] = d
	}
	return json.Marshal(out)
}

// DecodeLockedCells parses a persisted locked_cells column. Both
// "<recordID>:<field>" and bare "<field>" keys are accepted; unknown fields
// are dropped and undecodable input yields an empty map.
func DecodeLockedCells(data []byte) LockedCells {
	cells := make(LockedCells)
	data = unquote(data)
	if len(data) == 0 {
		return cells
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cells
	}
	for k, v := range raw {
		f := Field(k)
		if i := strings.LastIndex(k, ":"); i >= 0 {
			f = Field(k[i+1:])
		}
		if !f.Valid() {
			continue
		}
		var d struct {
			Locked    bool   `json:"locked"`
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(v, &d); err != nil {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, d.Timestamp)
		cells[f] = LockDescriptor{Locked: d.Locked, Timestamp: ts}
	}
	return cells
}

// EncodeColors serializes colour overrides keyed by field name.
func EncodeColors(c Colors) ([]byte, error) {
	if c == nil {
		c = Colors{}
	}
	return json.Marshal(c)
}

// DecodeColors parses a persisted colors column; bad input yields an
// empty map.
func DecodeColors(data []byte) Colors {
	c := make(Colors)
	data = unquote(data)
	if len(data) == 0 {
		return c
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return c
	}
	for k, v := range raw {
		c[Field(k)] = v
	}
	return c
}

// unquote unwraps a JSON document that was stored as a JSON string.
func unquote(data []byte) []byte {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return []byte(s)
		}
	}
	return data
}
