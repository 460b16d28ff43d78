// Package audit records user actions on the tracker and lets privileged
// users browse them.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// ActionType classifies an audit entry.
type ActionType string

const (
	ActionSignIn       ActionType = "SIGN_IN"
	ActionSubmission   ActionType = "SUBMISSION"
	ActionEdit         ActionType = "EDIT"
	ActionDeleteRow    ActionType = "DELETE_ROW"
	ActionDuplicateRow ActionType = "DUPLICATE_ROW"
	ActionColorChange  ActionType = "COLOR_CHANGE"
)

// DefaultPageSize is the audit viewer page length.
const DefaultPageSize = 10

// Entry is one audit record.
type Entry struct {
	User       string         `json:"user_email"`
	ActionType ActionType     `json:"action_type"`
	Details    map[string]any `json:"details"`
	Timestamp  time.Time      `json:"created_at"`
}

// Change is an old/new pair inside edit details.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// EditDetails builds the details of an EDIT entry.
func EditDetails(rowID string, changes map[record.Field]Change) map[string]any {
	c := make(map[string]any, len(changes))
	for f, ch := range changes {
		c[string(f)] = ch
	}
	return map[string]any{"row_id": rowID, "changes": c}
}

// Sink appends audit entries.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Query filters the audit log. Empty fields match everything.
type Query struct {
	Action ActionType
	// User matches the user email case-insensitively as a substring.
	User   string
	Offset int
	Limit  int
}

// Reader lists audit entries, newest first, with the total match count.
type Reader interface {
	List(ctx context.Context, q Query) ([]Entry, int, error)
}

type bestEffort struct {
	next   Sink
	logger *slog.Logger
}

// BestEffort wraps s so that append failures are logged and swallowed.
func BestEffort(s Sink, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &bestEffort{next: s, logger: logger}
}

func (b *bestEffort) Append(ctx context.Context, e Entry) error {
	if b.next == nil {
		return nil
	}
	if err := b.next.Append(ctx, e); err != nil {
		metrics.AuditFailureCounter.Inc()
		b.logger.Warn("gracelock: audit append failed", "action", e.ActionType, "user", e.User, "error", err)
	}
	return nil
}

type multi []Sink

// Multi appends to every sink in order and returns the first error.
func Multi(sinks ...Sink) Sink { return multi(sinks) }

func (m multi) Append(ctx context.Context, e Entry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MemorySink keeps entries in memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Append implements Sink.
func (m *MemorySink) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of every entry in append order.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// List implements Reader.
func (m *MemorySink) List(ctx context.Context, q Query) ([]Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	user := strings.ToLower(q.User)
	var out []Entry
	for _, e := range m.Entries() {
		if q.Action != "" && e.ActionType != q.Action {
			continue
		}
		if user != "" && !strings.Contains(strings.ToLower(e.User), user) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	total := len(out)
	return page(out, q), total, nil
}

func page(entries []Entry, q Query) []Entry {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if q.Offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[q.Offset:]
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
