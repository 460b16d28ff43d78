package audit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-gracelock/v1/record"
)

type failingSink struct{ calls int }

func (f *failingSink) Append(context.Context, Entry) error {
	f.calls++
	return errors.New("sink down")
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	f := &failingSink{}
	s := BestEffort(f, nil)
	if err := s.Append(context.Background(), Entry{ActionType: ActionEdit}); err != nil {
		t.Fatalf("BestEffort must not fail, got %v", err)
	}
	if f.calls != 1 {
		t.Fatalf("expected the wrapped sink to be called once, got %d", f.calls)
	}
}

func TestMultiAppendsEverywhere(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	f := &failingSink{}
	err := Multi(a, f, b).Append(context.Background(), Entry{ActionType: ActionSignIn})
	if err == nil {
		t.Fatal("expected first error to surface")
	}
	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Fatal("every sink must receive the entry")
	}
}

func TestEditDetails(t *testing.T) {
	d := EditDetails("row-1", map[record.Field]Change{
		record.Weight:   {Old: 10.0, New: 12.0},
		record.EstUnits: {Old: 20.0, New: 24.0},
	})
	if d["row_id"] != "row-1" {
		t.Fatalf("row_id %v", d["row_id"])
	}
	changes := d["changes"].(map[string]any)
	if changes["wt"].(Change).New != 12.0 || changes["est_units"].(Change).Old != 20.0 {
		t.Fatalf("unexpected changes %v", changes)
	}
}

func seed(t *testing.T, s Sink) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		e := Entry{User: "ops@example.com", ActionType: ActionEdit, Timestamp: base.Add(time.Duration(i) * time.Minute),
			Details: map[string]any{"row_id": "r"}}
		if i%4 == 0 {
			e.User = "Admin@Example.com"
			e.ActionType = ActionDeleteRow
		}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func exerciseReader(t *testing.T, r Reader) {
	t.Helper()
	ctx := context.Background()

	all, total, err := r.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 12 || len(all) != DefaultPageSize {
		t.Fatalf("expected 12 total and a page of 10, got %d/%d", total, len(all))
	}
	if !all[0].Timestamp.After(all[1].Timestamp) {
		t.Fatal("entries must be newest first")
	}

	second, _, err := r.List(ctx, Query{Offset: 10})
	if err != nil || len(second) != 2 {
		t.Fatalf("second page: %d entries, err %v", len(second), err)
	}

	deletes, total, err := r.List(ctx, Query{Action: ActionDeleteRow})
	if err != nil || total != 3 || len(deletes) != 3 {
		t.Fatalf("action filter: total %d err %v", total, err)
	}

	admins, total, err := r.List(ctx, Query{User: "admin@"})
	if err != nil || total != 3 || admins[0].User != "Admin@Example.com" {
		t.Fatalf("user filter: total %d err %v", total, err)
	}
	if admins[0].Details["row_id"] != "r" {
		t.Fatalf("details not preserved: %v", admins[0].Details)
	}
}

func TestMemorySinkList(t *testing.T) {
	s := NewMemorySink()
	seed(t, s)
	exerciseReader(t, s)
}

func TestGormSink(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	_ = db.Migrator().DropTable("audit_logs")
	s, err := NewGormSink(db)
	if err != nil {
		t.Fatalf("NewGormSink: %v", err)
	}
	seed(t, s)
	exerciseReader(t, s)
}

func TestPostgresSink(t *testing.T) {
	dsn := os.Getenv("GRACELOCK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GRACELOCK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := NewPostgresSink(ctx, pool)
	if err != nil {
		t.Fatalf("NewPostgresSink: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE audit_logs"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	seed(t, s)
	exerciseReader(t, s)
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		entry Entry
		want  string
	}{
		{Entry{ActionType: ActionSignIn, Details: map[string]any{}}, "User signed in"},
		{Entry{ActionType: ActionSubmission, Details: map[string]any{"file_name": "week12.xlsx", "row_count": 3}}, "Uploaded file: week12.xlsx, Rows: 3"},
		{Entry{ActionType: ActionEdit, Details: EditDetails("r1", map[record.Field]Change{
			record.Weight:   {Old: nil, New: 12.0},
			record.EstUnits: {Old: nil, New: 4.0},
		})}, "Edited row ID: r1, Fields: est_units, wt"},
		{Entry{ActionType: ActionDeleteRow, Details: map[string]any{"row_id": "r2"}}, "Deleted row ID: r2"},
		{Entry{ActionType: ActionDuplicateRow, Details: map[string]any{"original_row_id": "r1", "new_row_id": "r9"}}, "Duplicated row ID: r1 to new row ID: r9"},
		{Entry{ActionType: ActionColorChange, Details: map[string]any{"row_id": "r1"}}, ""},
	}
	for _, c := range cases {
		if got := Describe(c.entry); got != c.want {
			t.Fatalf("%s: got %q want %q", c.entry.ActionType, got, c.want)
		}
	}
}
