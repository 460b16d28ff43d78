package adapter_test

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

func newGormStore(t *testing.T, opts ...adapter.GormOption) (*adapter.GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	_ = db.Migrator().DropTable(adapter.TableName)

	s, err := adapter.NewGormStore(db, opts...)
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return s, db
}

func TestGormStore(t *testing.T) {
	s, _ := newGormStore(t)
	exerciseRecordStore(t, s)
}

func TestGormStoreRoundTripsLockState(t *testing.T) {
	s, db := newGormStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	recs, err := s.Insert(ctx, []record.Record{{
		Values:        map[record.Field]any{record.Product: "Gummies", record.PackagedDate: "2024-05-20"},
		LockedCells:   record.LockedCells{record.Product: {Locked: true, Timestamp: ts}},
		Colors:        record.Colors{record.WeekStartDate: "#e6ccff"},
		LockTimestamp: record.Time(ts),
		IsDuplicate:   true,
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := recs[0].ID

	var raw string
	if err := db.Raw("SELECT locked_cells FROM "+adapter.TableName+" WHERE id = ?", id).Scan(&raw).Error; err != nil {
		t.Fatalf("raw select: %v", err)
	}
	if want := `{"` + id + `:product":{"locked":true,"timestamp":"2024-06-01T09:30:00Z"}}`; raw != want {
		t.Fatalf("locked_cells stored as %s, want %s", raw, want)
	}

	got, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Get: ok %v err %v", ok, err)
	}
	if !got.LockedCells[record.Product].Locked || !got.LockedCells[record.Product].Timestamp.Equal(ts) {
		t.Fatalf("descriptor not round-tripped: %+v", got.LockedCells)
	}
	if got.Colors[record.WeekStartDate] != "#e6ccff" || !got.IsDuplicate {
		t.Fatalf("colors/duplicate not round-tripped: %+v", got)
	}
	if got.LockTimestamp == nil || !got.LockTimestamp.Equal(ts) {
		t.Fatalf("lock_timestamp not round-tripped: %v", got.LockTimestamp)
	}
	if got.Value(record.PackagedDate) != "2024-05-20" {
		t.Fatalf("packaged_date %v", got.Value(record.PackagedDate))
	}
}

func TestGormStoreToleratesStringWrappedLocks(t *testing.T) {
	s, db := newGormStore(t)
	ctx := context.Background()
	recs, err := s.Insert(ctx, []record.Record{{Values: map[record.Field]any{record.Lab: "Acme"}}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := recs[0].ID
	wrapped := `"{\"` + id + `:lab\":{\"locked\":true,\"timestamp\":\"2024-01-01T00:00:00.000Z\"}}"`
	if err := db.Exec("UPDATE "+adapter.TableName+" SET locked_cells = ? WHERE id = ?", wrapped, id).Error; err != nil {
		t.Fatalf("raw update: %v", err)
	}
	got, _, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LockedCells[record.Lab].Locked {
		t.Fatalf("expected lab to decode as locked, got %+v", got.LockedCells)
	}
}

func TestGormStoreWithTableName(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if _, err := adapter.NewGormStore(db, adapter.WithGormTableName("tracker_custom"), adapter.WithGormTimeout(time.Second)); err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	if !db.Migrator().HasTable("tracker_custom") {
		t.Fatal("tracker_custom table does not exist")
	}
}
