package adapter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

// TableName is the default table holding tracker rows.
const TableName = "fnp_tracker"

// SearchFields are matched case-insensitively by Filter.Search.
var SearchFields = []record.Field{
	record.Product, record.BatchStatus, record.StagingStatus, record.PackagingStatus,
}

// Filter narrows a Query.
type Filter struct {
	// Search matches any of SearchFields as a case-insensitive substring.
	Search string
}

// Range selects a page of results. A zero Limit returns every row.
type Range struct {
	Offset int
	Limit  int
}

// RecordStore is the authoritative storage of tracker rows.
type RecordStore interface {
	// Get fetches a record. The boolean reports whether it exists.
	Get(ctx context.Context, id string) (record.Record, bool, error)
	// Update applies p in a single write and returns the stored record.
	// It fails with errors.ErrStaleRow when the row is gone.
	Update(ctx context.Context, id string, p record.Patch) (record.Record, error)
	// Insert stores new records, assigning IDs and creation times where
	// missing, and returns them as stored.
	Insert(ctx context.Context, recs []record.Record) ([]record.Record, error)
	// Query returns a page of records ordered by creation time along with
	// the total number of matches.
	Query(ctx context.Context, f Filter, r Range) ([]record.Record, int, error)
	// Delete removes a record. Deleting a missing row is ErrStaleRow.
	Delete(ctx context.Context, id string) error
}

// prepareInsert fills in identity and timestamps for rows about to be
// stored.
func prepareInsert(recs []record.Record, now time.Time) []record.Record {
	out := make([]record.Record, len(recs))
	for i, r := range recs {
		r = r.Clone()
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			// keep batch order stable when ordering by creation time
			r.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		if r.LockedCells == nil {
			r.LockedCells = record.LockedCells{}
		}
		if r.Colors == nil {
			r.Colors = record.Colors{}
		}
		out[i] = r
	}
	return out
}

// InMemoryStore is a RecordStore backed by a map.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]record.Record
	now   func() time.Time
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]record.Record), now: time.Now}
}

// Get implements RecordStore.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (record.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, false, err
	}
	s.mu.RLock()
	r, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return record.Record{}, false, nil
	}
	return r.Clone(), true, nil
}

// Update implements RecordStore.Update.
func (s *InMemoryStore) Update(ctx context.Context, id string, p record.Patch) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return record.Record{}, gerrors.ErrStaleRow
	}
	r = p.Apply(r)
	s.items[id] = r
	return r.Clone(), nil
}

// Insert implements RecordStore.Insert.
func (s *InMemoryStore) Insert(ctx context.Context, recs []record.Record) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := prepareInsert(recs, s.now())
	s.mu.Lock()
	for _, r := range out {
		s.items[r.ID] = r.Clone()
	}
	s.mu.Unlock()
	return out, nil
}

// Query implements RecordStore.Query.
func (s *InMemoryStore) Query(ctx context.Context, f Filter, rg Range) ([]record.Record, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(strings.TrimSpace(f.Search))
	s.mu.RLock()
	matches := make([]record.Record, 0, len(s.items))
	for _, r := range s.items {
		if needle != "" && !matchesSearch(r, needle) {
			continue
		}
		matches = append(matches, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	total := len(matches)
	if rg.Offset > 0 {
		if rg.Offset >= len(matches) {
			return []record.Record{}, total, nil
		}
		matches = matches[rg.Offset:]
	}
	if rg.Limit > 0 && rg.Limit < len(matches) {
		matches = matches[:rg.Limit]
	}
	return matches, total, nil
}

// Delete implements RecordStore.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return gerrors.ErrStaleRow
	}
	delete(s.items, id)
	return nil
}

func matchesSearch(r record.Record, needle string) bool {
	for _, f := range SearchFields {
		if v, ok := r.Value(f).(string); ok && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
