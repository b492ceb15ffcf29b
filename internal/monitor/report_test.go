package monitor

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/notify"
	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// engineFixture is a backup engine over a seeded temp store, with its
// paths exposed for maintenance tests.
type engineFixture struct {
	engine    *backup.Engine
	st        *store.Store
	storePath string
	backupDir string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	root := t.TempDir()
	f := &engineFixture{
		storePath: filepath.Join(root, "sisteros.db"),
		backupDir: filepath.Join(root, "backups"),
	}

	db, err := sql.Open("sqlite", f.storePath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE sales (id INTEGER PRIMARY KEY, total REAL)`); err != nil {
		t.Fatalf("seed database: %v", err)
	}
	_ = db.Close()

	f.st = store.New(f.storePath)
	f.engine, err = backup.NewEngine(backup.EngineConfig{
		BackupDir: f.backupDir,
		Store:     f.st,
		Verify:    true,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return f
}

// seedWindow populates the history with samples and alerts inside
// yesterday's daily window.
func seedWindow(t *testing.T, h *History, now time.Time) {
	t.Helper()
	inWindow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(-12 * time.Hour)

	for i, cpu := range []float64{20, 40, 90} {
		s := sampleAt(inWindow.Add(time.Duration(i)*time.Minute), cpu)
		if i == 2 {
			s.Degraded = []string{"store"}
			s.AppUp = false
		}
		if err := h.Record(s); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	events := []AlertEvent{
		{RuleID: "cpu-high", Metric: "cpu_percent", Severity: notify.SeverityWarning, FiredAt: inWindow.Add(2 * time.Minute)},
		{RuleID: "cpu-high", Metric: "cpu_percent", Severity: notify.SeverityWarning, Resolved: true, FiredAt: inWindow.Add(3 * time.Minute)},
		{RuleID: "app-down", Metric: "app_up", Severity: notify.SeverityCritical, FiredAt: inWindow.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := appendJSONL(filepath.Join(h.dataDir, alertHistoryFile), ev); err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}
}

// TestGenerateDailyReport tests metric summaries, alert counts and the
// degraded tallies over the last completed day.
func TestGenerateDailyReport(t *testing.T) {
	now := time.Now().UTC()
	h := NewHistory(t.TempDir(), 30)
	seedWindow(t, h, now)
	reporter := NewReporter(h, newEngineFixture(t).engine, t.TempDir())

	rep, err := reporter.Generate(ReportDaily, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if rep.SampleCount != 3 {
		t.Errorf("expected 3 samples, got %d", rep.SampleCount)
	}
	cpu, ok := rep.Metrics["cpu_percent"]
	if !ok {
		t.Fatal("cpu summary missing")
	}
	if cpu.Min != 20 || cpu.Max != 90 || cpu.Count != 3 {
		t.Errorf("cpu summary wrong: %+v", cpu)
	}
	if cpu.Avg != 50 {
		t.Errorf("expected avg 50, got %g", cpu.Avg)
	}

	// The degraded store probe must not contribute a latency summary.
	if lat, ok := rep.Metrics["store_latency_ms"]; ok && lat.Count != 2 {
		t.Errorf("degraded sample counted in latency summary: %+v", lat)
	}

	if rep.Degraded != 1 || rep.AppDowntimes != 1 {
		t.Errorf("degraded/downtime tallies wrong: %d/%d", rep.Degraded, rep.AppDowntimes)
	}
	// Resolved events are not counted as firings.
	if rep.AlertCounts[notify.SeverityWarning] != 1 || rep.AlertCounts[notify.SeverityCritical] != 1 {
		t.Errorf("alert counts wrong: %+v", rep.AlertCounts)
	}
}

// TestGenerateReportIdempotent tests that regenerating a window returns
// the stored report instead of rebuilding it.
func TestGenerateReportIdempotent(t *testing.T) {
	now := time.Now().UTC()
	h := NewHistory(t.TempDir(), 30)
	seedWindow(t, h, now)
	reportsDir := t.TempDir()
	reporter := NewReporter(h, newEngineFixture(t).engine, reportsDir)

	first, err := reporter.Generate(ReportDaily, now)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}

	// More data arriving after generation must not change the stored report.
	if err := h.Record(sampleAt(first.WindowStart.Add(time.Hour), 99)); err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := reporter.Generate(ReportDaily, now)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}

	if !second.GeneratedAt.Equal(first.GeneratedAt) || second.SampleCount != first.SampleCount {
		t.Error("report regenerated for an already-reported window")
	}

	entries, err := os.ReadDir(reportsDir)
	if err != nil {
		t.Fatalf("read reports dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 report file, got %d", len(entries))
	}
}

// TestReportBackupSummary tests the archive roll-up in a report.
func TestReportBackupSummary(t *testing.T) {
	now := time.Now().UTC()
	h := NewHistory(t.TempDir(), 30)
	fix := newEngineFixture(t)
	engine := fix.engine
	if _, err := engine.CreateBackup(context.Background(), "nightly", backup.KindAuto, false); err != nil {
		t.Fatalf("create backup: %v", err)
	}
	reporter := NewReporter(h, engine, t.TempDir())

	rep, err := reporter.Generate(ReportDaily, now)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Backups.TotalArchives != 1 || rep.Backups.VerifiedCount != 1 {
		t.Errorf("backup summary wrong: %+v", rep.Backups)
	}
	if rep.Backups.NewestID != "nightly" {
		t.Errorf("expected newest nightly, got %s", rep.Backups.NewestID)
	}
}

// TestWeeklyWindowBounds tests that the weekly window is the last full
// Monday-to-Monday span.
func TestWeeklyWindowBounds(t *testing.T) {
	// A Wednesday.
	now := time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC)
	from, to := reportWindow(ReportWeekly, now)

	if from.Weekday() != time.Monday || to.Weekday() != time.Monday {
		t.Errorf("window not Monday aligned: %s to %s", from.Weekday(), to.Weekday())
	}
	if !to.Equal(time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected window end 2026-08-31, got %s", to)
	}
	if to.Sub(from) != 7*24*time.Hour {
		t.Errorf("expected 7 day window, got %s", to.Sub(from))
	}
}
