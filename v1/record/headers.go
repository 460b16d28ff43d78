package record

import (
	"fmt"
	"strings"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
)

// ResolveHeader maps a spreadsheet column header such as "Packaged Date"
// to its field. Matching ignores case, surrounding space and the
// difference between spaces, dashes and underscores.
func ResolveHeader(header string) (Field, bool) {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	f := Field(h)
	if f == "weight" {
		f = Weight
	}
	return f, f.Valid()
}

// MapHeaders resolves every header of an import batch. At least one
// header must resolve and no two headers may resolve to the same field.
// Unresolved headers are skipped.
func MapHeaders(headers []string) (map[string]Field, error) {
	out := make(map[string]Field, len(headers))
	seen := make(map[Field]string, len(headers))
	for _, h := range headers {
		f, ok := ResolveHeader(h)
		if !ok {
			continue
		}
		if prev, dup := seen[f]; dup {
			return nil, fmt.Errorf("headers %q and %q both map to %s: %w", prev, h, f, gerrors.ErrValidation)
		}
		seen[f] = h
		out[h] = f
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recognised columns: %w", gerrors.ErrValidation)
	}
	return out, nil
}
