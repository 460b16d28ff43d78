package audit

import (
	"fmt"
	"sort"
	"strings"
)

// Describe renders the one-line summary shown in the audit viewer.
// Unknown action types and colour changes have no summary.
func Describe(e Entry) string {
	d := e.Details
	switch e.ActionType {
	case ActionSignIn:
		return "User signed in"
	case ActionSubmission:
		return fmt.Sprintf("Uploaded file: %v, Rows: %v", d["file_name"], d["row_count"])
	case ActionEdit:
		return fmt.Sprintf("Edited row ID: %v, Fields: %s", d["row_id"], strings.Join(changedFields(d["changes"]), ", "))
	case ActionDeleteRow:
		return fmt.Sprintf("Deleted row ID: %v", d["row_id"])
	case ActionDuplicateRow:
		return fmt.Sprintf("Duplicated row ID: %v to new row ID: %v", d["original_row_id"], d["new_row_id"])
	}
	return ""
}

func changedFields(v any) []string {
	changes, _ := v.(map[string]any)
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
