package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterCoreMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCoreMetrics(reg)
	CommitCounter.WithLabelValues("committed").Inc()
	FinalizeCounter.WithLabelValues("locked").Inc()
	ConfirmCounter.WithLabelValues("affirm").Inc()
	GraceTimersGauge.Set(5)
	AuditFailureCounter.Inc()
	InvalidationCounter.Inc()
	DriftCounter.Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 7 {
		t.Fatalf("expected 7 metric families, got %d", len(mfs))
	}
	if v := testutil.ToFloat64(GraceTimersGauge); v != 5 {
		t.Fatalf("expected gauge 5, got %v", v)
	}
}

func TestRegisterCoreMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCoreMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterCoreMetrics(reg)
}
