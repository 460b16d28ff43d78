package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("GRACELOCK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GRACELOCK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := adapter.OpenPostgres(ctx, dsn, adapter.WithPostgresTable("fnp_tracker_test"))
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.Pool().Exec(ctx, "TRUNCATE fnp_tracker_test"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseRecordStore(t, s)
}
