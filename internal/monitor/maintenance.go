package monitor

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/store"
)

// MaintenanceResult records what one maintenance run accomplished. Steps
// that fail are noted and the run continues; maintenance is best effort.
type MaintenanceResult struct {
	PrunedArchives []string      `json:"pruned_archives"`
	LogsRemoved    int           `json:"logs_removed"`
	LogsCompressed int           `json:"logs_compressed"`
	TempRemoved    int           `json:"temp_removed"`
	Vacuumed       bool          `json:"vacuumed"`
	HistoryTrimmed bool          `json:"history_trimmed"`
	Duration       time.Duration `json:"duration"`
	Errors         []string      `json:"errors,omitempty"`
}

// Maintenance bundles the periodic housekeeping tasks: archive retention,
// old log cleanup, stale temp file removal, store vacuum and sample
// history compaction.
type Maintenance struct {
	engine      *backup.Engine
	st          *store.Store
	history     *History
	logsDir     string
	backupDir   string
	logMaxDays  int
	skipCleanup bool
	skipVacuum  bool
	log         zerolog.Logger
}

type MaintenanceConfig struct {
	Engine     *backup.Engine
	Store      *store.Store
	History    *History
	LogsDir    string
	BackupDir  string
	LogMaxDays int

	// SkipCleanup and SkipVacuum narrow a run to a subset of the steps.
	// Both zero means a full run.
	SkipCleanup bool
	SkipVacuum  bool
}

func NewMaintenance(cfg MaintenanceConfig, log zerolog.Logger) *Maintenance {
	if cfg.LogMaxDays <= 0 {
		cfg.LogMaxDays = 30
	}
	return &Maintenance{
		engine:      cfg.Engine,
		st:          cfg.Store,
		history:     cfg.History,
		logsDir:     cfg.LogsDir,
		backupDir:   cfg.BackupDir,
		logMaxDays:  cfg.LogMaxDays,
		skipCleanup: cfg.SkipCleanup,
		skipVacuum:  cfg.SkipVacuum,
		log:         log,
	}
}

// Run executes the selected maintenance steps in order.
func (m *Maintenance) Run(ctx context.Context) *MaintenanceResult {
	start := time.Now()
	res := &MaintenanceResult{}

	if !m.skipCleanup {
		pruned, err := m.engine.Cleanup(ctx, false)
		if err != nil {
			res.fail(err)
		}
		for _, a := range pruned {
			res.PrunedArchives = append(res.PrunedArchives, a.ID)
		}

		res.LogsRemoved = m.removeOldLogs(res)
		res.LogsCompressed = m.compressOldLogs(res)
		res.TempRemoved = m.removeStaleTemp(res)

		if m.history != nil {
			if err := m.history.Compact(time.Now()); err != nil {
				res.fail(err)
			} else {
				res.HistoryTrimmed = true
			}
		}
	}

	if !m.skipVacuum {
		// Vacuum rewrites the store file, so it needs the same exclusivity
		// as a backup or restore.
		if err := m.vacuumStore(ctx); err != nil {
			res.fail(err)
		} else {
			res.Vacuumed = true
		}
	}

	res.Duration = time.Since(start)
	m.log.Info().
		Int("pruned", len(res.PrunedArchives)).
		Int("logs_removed", res.LogsRemoved).
		Int("logs_compressed", res.LogsCompressed).
		Int("temp_removed", res.TempRemoved).
		Bool("vacuumed", res.Vacuumed).
		Dur("duration", res.Duration).
		Msg("maintenance finished")
	return res
}

func (m *Maintenance) vacuumStore(ctx context.Context) error {
	release, err := m.engine.Lock().Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return m.st.Vacuum(ctx)
}

// Logs past this age are gzipped in place; removeOldLogs reclaims them
// once they cross the full retention horizon.
const logCompressDays = 7

// removeOldLogs deletes log files, compressed or not, whose last
// modification is older than the log retention horizon. The active
// operational log keeps getting written, so it never qualifies.
func (m *Maintenance) removeOldLogs(res *MaintenanceResult) int {
	if m.logsDir == "" {
		return 0
	}
	horizon := time.Now().AddDate(0, 0, -m.logMaxDays)
	paths, err := filepath.Glob(filepath.Join(m.logsDir, "*.log*"))
	if err != nil {
		res.fail(err)
		return 0
	}
	removed := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(horizon) {
			continue
		}
		if err := os.Remove(path); err != nil {
			res.fail(err)
			continue
		}
		removed++
	}
	return removed
}

// compressOldLogs gzips *.log files older than logCompressDays, replacing
// each with a .gz copy.
func (m *Maintenance) compressOldLogs(res *MaintenanceResult) int {
	if m.logsDir == "" {
		return 0
	}
	horizon := time.Now().AddDate(0, 0, -logCompressDays)
	paths, err := filepath.Glob(filepath.Join(m.logsDir, "*.log"))
	if err != nil {
		res.fail(err)
		return 0
	}
	compressed := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(horizon) {
			continue
		}
		if err := gzipFile(path); err != nil {
			res.fail(err)
			continue
		}
		if err := os.Remove(path); err != nil {
			res.fail(err)
			continue
		}
		compressed++
	}
	return compressed
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		_ = gw.Close()
		_ = out.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	if err := gw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	return out.Close()
}

// removeStaleTemp clears leftover staging directories in the backup root.
// A staging dir is only stale once it is old enough that no in-flight
// backup can still own it.
func (m *Maintenance) removeStaleTemp(res *MaintenanceResult) int {
	if m.backupDir == "" {
		return 0
	}
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if !os.IsNotExist(err) {
			res.fail(err)
		}
		return 0
	}
	horizon := time.Now().Add(-24 * time.Hour)
	removed := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		path := filepath.Join(m.backupDir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.ModTime().After(horizon) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			res.fail(err)
			continue
		}
		removed++
	}
	return removed
}

func (r *MaintenanceResult) fail(err error) {
	r.Errors = append(r.Errors, err.Error())
}
