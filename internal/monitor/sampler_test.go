package monitor

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TXBk0032-1/SisterOS/internal/appctl"
	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/store"
)

func newTestSampler(t *testing.T, statusURL string) (*Sampler, *backup.StoreLock) {
	t.Helper()
	root := t.TempDir()
	storePath := filepath.Join(root, "sisteros.db")

	db, err := sql.Open("sqlite", storePath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE sales (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("seed database: %v", err)
	}
	_ = db.Close()

	lock := &backup.StoreLock{}
	s := NewSampler(store.New(storePath), appctl.New(statusURL, time.Second), lock,
		root, 5*time.Second, testLogger())
	return s, lock
}

// TestSampleCollectsMetrics tests a full sample over a real store file.
func TestSampleCollectsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := newTestSampler(t, srv.URL)
	sample := s.Sample(context.Background())

	if len(sample.Degraded) != 0 {
		t.Fatalf("unexpected degraded probes: %v", sample.Degraded)
	}
	if sample.DiskPercent <= 0 {
		t.Errorf("expected positive disk usage, got %g", sample.DiskPercent)
	}
	if sample.MemoryPercent <= 0 {
		t.Errorf("expected positive memory usage, got %g", sample.MemoryPercent)
	}
	if sample.StoreSizeBytes <= 0 {
		t.Errorf("expected positive store size, got %d", sample.StoreSizeBytes)
	}
	if !sample.AppUp {
		t.Error("expected app up with healthy endpoint")
	}
}

// TestSampleAppDown tests that a dead endpoint reports DOWN rather than a
// degraded probe.
func TestSampleAppDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, _ := newTestSampler(t, srv.URL)
	sample := s.Sample(context.Background())

	if sample.AppUp {
		t.Error("expected app down for 503 endpoint")
	}
	if v, ok := sample.Metric("app_up"); !ok || v != 0 {
		t.Errorf("expected app_up metric known and 0, got %g ok=%v", v, ok)
	}
}

// TestSampleNoAppConfigured tests that without an endpoint the liveness
// metric stays quiet.
func TestSampleNoAppConfigured(t *testing.T) {
	s, _ := newTestSampler(t, "")
	sample := s.Sample(context.Background())

	if !sample.AppUp {
		t.Error("unconfigured app must not report down")
	}
}

// TestSampleStoreProbeSkippedDuringBackup tests that an exclusively held
// store lock degrades only the store probe.
func TestSampleStoreProbeSkippedDuringBackup(t *testing.T) {
	s, lock := newTestSampler(t, "")

	release, ok := lock.TryAcquire()
	if !ok {
		t.Fatal("could not take store lock")
	}
	defer release()

	sample := s.Sample(context.Background())
	if !sample.IsDegraded("store") {
		t.Error("expected store probe degraded while lock held")
	}
	if _, ok := sample.Metric("store_latency_ms"); ok {
		t.Error("degraded store probe still reported latency")
	}
	if sample.IsDegraded("system") || sample.IsDegraded("disk") {
		t.Errorf("unrelated probes degraded: %v", sample.Degraded)
	}
}
