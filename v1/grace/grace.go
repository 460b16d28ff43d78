// Package grace runs the countdowns that keep a freshly committed cell
// editable. Every commit registers a timer for the cell; one shared clock
// decrements all timers and, when a timer runs out, hands the cell to a
// finalizer that makes the lock permanent.
//
// A registry belongs to a dashboard session: it is created when the
// session mounts and its Run loop stops when the session unmounts.
package grace

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/metrics"
	"github.com/mirkobrombin/go-gracelock/v1/record"
	"github.com/mirkobrombin/go-gracelock/v1/watchbus"
)

const (
	// DefaultPeriod is the length of the grace window.
	DefaultPeriod = 300 * time.Second
	// DefaultTick is the period of the shared clock.
	DefaultTick = time.Second
)

// Key identifies the timer of one cell.
type Key struct {
	RecordID string
	Field    record.Field
}

func (k Key) String() string { return k.RecordID + ":" + string(k.Field) }

// FinalizeFunc makes the lock of an expired cell permanent.
type FinalizeFunc func(ctx context.Context, recordID string, field record.Field) error

// Countdown is the payload published on the watch feed after every tick.
type Countdown struct {
	RecordID  string               `json:"record_id"`
	Remaining map[record.Field]int `json:"remaining"`
}

// Registry holds the active grace timers of a session.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]int

	finalize FinalizeFunc
	period   time.Duration
	tick     time.Duration
	feed     watchbus.WatchBus
	logger   *slog.Logger

	// queued holds the cells waiting for the finalize worker of each
	// record; a key is present while that worker runs.
	workMu  sync.Mutex
	queued  map[string][]record.Field
	pending sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithPeriod sets the grace window. Values below one second are ignored.
func WithPeriod(d time.Duration) Option {
	return func(r *Registry) {
		if d >= time.Second {
			r.period = d
		}
	}
}

// WithTick sets the clock period used by Run.
func WithTick(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithFeed publishes countdowns on bus after every tick.
func WithFeed(bus watchbus.WatchBus) Option {
	return func(r *Registry) { r.feed = bus }
}

// WithLogger sets the logger used to report finalize failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns an empty Registry that calls finalize for expired cells.
func New(finalize FinalizeFunc, opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[Key]int),
		queued:   make(map[string][]record.Field),
		finalize: finalize,
		period:   DefaultPeriod,
		tick:     DefaultTick,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetFinalizer replaces the finalize callback. It must be called before Run.
func (r *Registry) SetFinalizer(fn FinalizeFunc) {
	r.mu.Lock()
	r.finalize = fn
	r.mu.Unlock()
}

// Seconds returns the length of the grace window in ticks.
func (r *Registry) Seconds() int { return int(r.period / time.Second) }

// Period returns the grace window.
func (r *Registry) Period() time.Duration { return r.period }

// Register starts or restarts the timer of k with the given number of
// ticks. A non-positive count cancels the timer.
func (r *Registry) Register(k Key, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.track(len(r.entries))
	if seconds <= 0 {
		delete(r.entries, k)
	} else {
		r.entries[k] = seconds
	}
}

// Cancel drops the timer of k without finalizing it.
func (r *Registry) Cancel(k Key) {
	r.Register(k, 0)
}

// CancelRecord drops every timer of the record.
func (r *Registry) CancelRecord(recordID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.track(len(r.entries))
	for k := range r.entries {
		if k.RecordID == recordID {
			delete(r.entries, k)
		}
	}
}

// track moves the gauge by the change in size since before. The gauge is
// shared by every registry in the process. Callers hold r.mu.
func (r *Registry) track(before int) {
	if d := len(r.entries) - before; d != 0 {
		metrics.GraceTimersGauge.Add(float64(d))
	}
}

// Active reports whether the cell has a running timer.
func (r *Registry) Active(recordID string, field record.Field) bool {
	_, ok := r.Remaining(Key{RecordID: recordID, Field: field})
	return ok
}

// Remaining returns the ticks left on the timer of k.
func (r *Registry) Remaining(k Key) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.entries[k]
	return n, ok
}

// Snapshot returns a copy of every running timer.
func (r *Registry) Snapshot() map[Key]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Key]int, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Countdowns encodes the running timers of recordID, or of every record
// when recordID is empty, as the messages published on each tick. It
// serves as a watchbus.SnapshotFunc.
func (r *Registry) Countdowns(recordID string) [][]byte {
	byRecord := make(map[string]map[record.Field]int)
	for k, n := range r.Snapshot() {
		if recordID != "" && k.RecordID != recordID {
			continue
		}
		if byRecord[k.RecordID] == nil {
			byRecord[k.RecordID] = make(map[record.Field]int)
		}
		byRecord[k.RecordID][k.Field] = n
	}
	ids := make([]string, 0, len(byRecord))
	for id := range byRecord {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		data, err := json.Marshal(Countdown{RecordID: id, Remaining: byRecord[id]})
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// Len returns the number of running timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Rebuild reconstructs timers from persisted lock descriptors: every
// locked cell stamped less than one grace window before now gets a timer
// with the whole seconds left. Existing timers keep the larger count. It
// returns the number of timers set.
func (r *Registry) Rebuild(records []record.Record, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.track(len(r.entries))
	n := 0
	for _, rec := range records {
		for f, d := range rec.LockedCells {
			if !d.Locked || d.Timestamp.IsZero() {
				continue
			}
			left := r.period - now.Sub(d.Timestamp)
			if left > r.period {
				left = r.period
			}
			secs := int(left / time.Second)
			if secs <= 0 {
				continue
			}
			k := Key{RecordID: rec.ID, Field: f}
			if cur, ok := r.entries[k]; ok && cur >= secs {
				continue
			}
			r.entries[k] = secs
			n++
		}
	}
	return n
}

// Tick advances every timer by one. Expired timers are removed and their
// cells handed to the finalize worker of their record: cells of one record
// are finalized one after another, different records concurrently. Tick
// does not wait for finalizers, so a slow store never holds the clock; use
// Wait to block until they are done.
func (r *Registry) Tick(ctx context.Context) {
	r.mu.Lock()
	before := len(r.entries)
	expired := make(map[string][]record.Field)
	touched := make(map[string]map[record.Field]int)
	for k, n := range r.entries {
		n--
		if _, ok := touched[k.RecordID]; !ok {
			touched[k.RecordID] = make(map[record.Field]int)
		}
		if n <= 0 {
			delete(r.entries, k)
			expired[k.RecordID] = append(expired[k.RecordID], k.Field)
			continue
		}
		r.entries[k] = n
		touched[k.RecordID][k.Field] = n
	}
	finalize := r.finalize
	r.track(before)
	r.mu.Unlock()

	r.publish(ctx, touched)
	if finalize == nil {
		return
	}
	// A finalize that started runs to completion even if the session stops.
	fctx := context.WithoutCancel(ctx)
	for id, fields := range expired {
		sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
		r.enqueue(fctx, finalize, id, fields)
	}
}

// enqueue appends fields to the queue of recordID and starts its worker
// unless one is already draining it.
func (r *Registry) enqueue(ctx context.Context, finalize FinalizeFunc, id string, fields []record.Field) {
	r.workMu.Lock()
	defer r.workMu.Unlock()
	q, running := r.queued[id]
	r.queued[id] = append(q, fields...)
	if running {
		return
	}
	r.pending.Add(1)
	go r.drain(ctx, finalize, id)
}

func (r *Registry) drain(ctx context.Context, finalize FinalizeFunc, id string) {
	defer r.pending.Done()
	for {
		r.workMu.Lock()
		fields := r.queued[id]
		if len(fields) == 0 {
			delete(r.queued, id)
			r.workMu.Unlock()
			return
		}
		r.queued[id] = nil
		r.workMu.Unlock()

		for _, f := range fields {
			if err := finalize(ctx, id, f); err != nil {
				r.logger.Warn("gracelock: finalize lock failed", "record", id, "field", f, "error", err)
			}
		}
	}
}

// Wait blocks until every cell handed out by Tick has been finalized.
func (r *Registry) Wait() {
	r.pending.Wait()
}

func (r *Registry) publish(ctx context.Context, touched map[string]map[record.Field]int) {
	if r.feed == nil {
		return
	}
	for id, remaining := range touched {
		data, err := json.Marshal(Countdown{RecordID: id, Remaining: remaining})
		if err != nil {
			continue
		}
		if err := watchbus.Broadcast(ctx, r.feed, id, data); err != nil {
			r.logger.Debug("gracelock: countdown publish failed", "record", id, "error", err)
		}
	}
}

// Run ticks the registry until ctx is done, then waits for the finalizers
// still running.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Wait()
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
