package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/notify"
)

// ReportKind selects the aggregation window.
type ReportKind string

const (
	ReportDaily  ReportKind = "daily"
	ReportWeekly ReportKind = "weekly"
)

// MetricSummary aggregates one metric over a report window.
type MetricSummary struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}

// BackupSummary describes the archive set as of report generation plus the
// creation activity inside the window.
type BackupSummary struct {
	TotalArchives   int       `json:"total_archives"`
	VerifiedCount   int       `json:"verified_count"`
	CreatedInWindow int       `json:"created_in_window"`
	NewestID        string    `json:"newest_id,omitempty"`
	NewestAt        time.Time `json:"newest_at,omitempty"`
	TotalSizeBytes  int64     `json:"total_size_bytes"`
}

// Report is one persisted health digest.
type Report struct {
	Kind         ReportKind               `json:"kind"`
	WindowStart  time.Time                `json:"window_start"`
	WindowEnd    time.Time                `json:"window_end"`
	GeneratedAt  time.Time                `json:"generated_at"`
	SampleCount  int                      `json:"sample_count"`
	Degraded     int                      `json:"degraded_samples"`
	Metrics      map[string]MetricSummary `json:"metrics"`
	AlertCounts  map[notify.Severity]int  `json:"alert_counts"`
	Backups      BackupSummary            `json:"backups"`
	AppDowntimes int                      `json:"app_down_samples"`
}

// reportMetrics are the per-sample series summarized in a digest.
var reportMetrics = []string{
	"cpu_percent", "memory_percent", "disk_percent",
	"store_latency_ms", "store_size_bytes", "log_errors",
}

// Reporter builds and persists digest reports. Reports are named by their
// window, so re-running generation for a window that already has a report
// returns the stored one unchanged.
type Reporter struct {
	history *History
	engine  *backup.Engine
	dir     string
}

func NewReporter(history *History, engine *backup.Engine, reportsDir string) *Reporter {
	return &Reporter{history: history, engine: engine, dir: reportsDir}
}

// Generate produces the report for the window of the given kind that ends at
// the start of now's day (daily) or week (weekly).
func (r *Reporter) Generate(kind ReportKind, now time.Time) (*Report, error) {
	from, to := reportWindow(kind, now)
	path := r.reportPath(kind, from)

	if existing, err := loadReport(path); err == nil {
		return existing, nil
	}

	samples, err := r.history.SamplesBetween(from, to)
	if err != nil {
		return nil, fmt.Errorf("report: reading sample history: %w", err)
	}
	alerts, err := r.history.AlertsBetween(from, to)
	if err != nil {
		return nil, fmt.Errorf("report: reading alert history: %w", err)
	}

	rep := &Report{
		Kind:        kind,
		WindowStart: from,
		WindowEnd:   to,
		GeneratedAt: time.Now().UTC(),
		SampleCount: len(samples),
		Metrics:     map[string]MetricSummary{},
		AlertCounts: map[notify.Severity]int{},
	}

	for _, name := range reportMetrics {
		if sum, ok := summarize(samples, name); ok {
			rep.Metrics[name] = sum
		}
	}
	for i := range samples {
		if len(samples[i].Degraded) > 0 {
			rep.Degraded++
		}
		if !samples[i].AppUp {
			rep.AppDowntimes++
		}
	}
	for _, ev := range alerts {
		if !ev.Resolved {
			rep.AlertCounts[ev.Severity]++
		}
	}
	rep.Backups = r.backupSummary(from, to)

	if err := writeReport(path, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *Reporter) backupSummary(from, to time.Time) BackupSummary {
	var sum BackupSummary
	for _, a := range r.engine.ListBackups() {
		sum.TotalArchives++
		sum.TotalSizeBytes += a.SizeBytes
		if a.Status == backup.StatusVerified {
			sum.VerifiedCount++
		}
		if !a.CreatedAt.Before(from) && a.CreatedAt.Before(to) {
			sum.CreatedInWindow++
		}
		if sum.NewestID == "" || a.CreatedAt.After(sum.NewestAt) {
			sum.NewestID = a.ID
			sum.NewestAt = a.CreatedAt
		}
	}
	return sum
}

func (r *Reporter) reportPath(kind ReportKind, from time.Time) string {
	var name string
	switch kind {
	case ReportWeekly:
		year, week := from.ISOWeek()
		name = fmt.Sprintf("weekly-%d-W%02d.json", year, week)
	default:
		name = fmt.Sprintf("daily-%s.json", from.Format("2006-01-02"))
	}
	return filepath.Join(r.dir, name)
}

// reportWindow returns the most recently completed window of the given kind.
func reportWindow(kind ReportKind, now time.Time) (time.Time, time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if kind == ReportWeekly {
		// Week windows start on Monday.
		weekday := (int(day.Weekday()) + 6) % 7
		end := day.AddDate(0, 0, -weekday)
		return end.AddDate(0, 0, -7), end
	}
	return day.AddDate(0, 0, -1), day
}

func summarize(samples []HealthSample, metric string) (MetricSummary, bool) {
	var sum MetricSummary
	total := 0.0
	for i := range samples {
		v, ok := samples[i].Metric(metric)
		if !ok {
			continue
		}
		if sum.Count == 0 || v < sum.Min {
			sum.Min = v
		}
		if sum.Count == 0 || v > sum.Max {
			sum.Max = v
		}
		total += v
		sum.Count++
	}
	if sum.Count == 0 {
		return MetricSummary{}, false
	}
	sum.Avg = total / float64(sum.Count)
	return sum, true
}

func loadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func writeReport(path string, rep *Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
