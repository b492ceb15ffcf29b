// Command sisteros-ops is the operations companion for a SisterOS point of
// sale deployment: backups and restores of the persistent store, health
// monitoring of the host and the running application, and digest reports.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TXBk0032-1/SisterOS/internal/appctl"
	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/config"
	"github.com/TXBk0032-1/SisterOS/internal/logging"
	"github.com/TXBk0032-1/SisterOS/internal/monitor"
	"github.com/TXBk0032-1/SisterOS/internal/notify"
	"github.com/TXBk0032-1/SisterOS/internal/store"
)

var (
	// Version is set via ldflags during release builds.
	Version = "dev"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sisteros-ops",
	Short: "Backup, recovery and health monitoring for SisterOS",
	Long: `sisteros-ops protects a SisterOS deployment: consistent snapshots of
the SQLite store with its config tree, verified restores with automatic
rollback, and continuous health monitoring with threshold alerts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sisteros-ops.yaml",
		"path to the configuration file")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(maintenanceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps well-known failures to stable codes so scripts wrapping
// this tool can branch on the outcome.
func exitCode(err error) int {
	switch {
	case errors.Is(err, backup.ErrNamingConflict):
		return 2
	case errors.Is(err, backup.ErrDiskFull):
		return 3
	case errors.Is(err, backup.ErrArchiveCorrupt):
		return 4
	case errors.Is(err, backup.ErrQuiesceTimeout):
		return 5
	case errors.Is(err, backup.ErrRestoreVerificationFailed):
		return 6
	case errors.Is(err, backup.ErrAmbiguousRestoreTarget):
		return 7
	default:
		return 1
	}
}

// app bundles the wired components every subcommand starts from.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	st     *store.Store
	client *appctl.Client
	engine *backup.Engine
	coord  *backup.Coordinator
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	log := logging.Setup(cfg.Logging.Level, cfg.Logging.JSON, cfg.Paths.LogsDir)
	st := store.New(cfg.Paths.StorePath)
	client := appctl.New(cfg.App.StatusURL, cfg.ProbeTimeout())
	lock := &backup.StoreLock{}

	engine, err := backup.NewEngine(backup.EngineConfig{
		BackupDir: cfg.Paths.BackupDir,
		Store:     st,
		ConfigDir: cfg.Paths.ConfigDir,
		Rule: backup.RetentionRule{
			KeepMostRecent: cfg.Backup.KeepMostRecent,
			KeepDailyFor:   cfg.Backup.KeepDailyFor,
			MaxAgeDays:     cfg.Backup.MaxAgeDays,
			MaxCount:       cfg.Backup.MaxCount,
		},
		Verify: cfg.Backup.Verify,
		Lock:   lock,
		Logger: logging.WithComponent(log, "backup"),
	})
	if err != nil {
		return nil, err
	}

	coord := backup.NewCoordinator(engine, client, cfg.QuiesceTimeout(), cfg.ProbeTimeout(),
		logging.WithComponent(log, "restore"))

	return &app{cfg: cfg, log: log, st: st, client: client, engine: engine, coord: coord}, nil
}

// notifier builds the configured alert channel wrapped in the delivery
// circuit breaker.
func (a *app) notifier() notify.Notifier {
	var inner notify.Notifier
	if a.cfg.Alerts.Channel == "email" {
		email, err := notify.NewEmailNotifier(notify.EmailConfig{
			Server:     a.cfg.Alerts.SMTPServer,
			Port:       a.cfg.Alerts.SMTPPort,
			Username:   a.cfg.Alerts.SMTPUsername,
			Password:   a.cfg.Alerts.SMTPPassword,
			From:       a.cfg.Alerts.FromEmail,
			Recipients: a.cfg.Alerts.Recipients,
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("email channel misconfigured, falling back to log")
		} else {
			inner = email
		}
	}
	if inner == nil {
		inner = notify.NewLogNotifier(logging.WithComponent(a.log, "alert"))
	}
	return notify.NewBreakerNotifier(inner, time.Minute)
}

// monitorStack wires the sampling and alerting pipeline on top of the app.
func (a *app) monitorStack() (*monitor.Scheduler, *monitor.History, *monitor.Sampler) {
	mlog := logging.WithComponent(a.log, "monitor")

	sampler := monitor.NewSampler(a.st, a.client, a.engine.Lock(), a.cfg.Paths.LogsDir,
		a.cfg.ProbeTimeout(), mlog)
	evaluator := monitor.NewEvaluator(a.cfg.Monitoring.Rules)
	dispatcher := monitor.NewDispatcher(monitor.DispatcherConfig{
		Notifier:    a.notifier(),
		DataDir:     a.cfg.Paths.DataDir,
		BatchWindow: time.Duration(a.cfg.Alerts.BatchWindowSeconds) * time.Second,
		MaxAttempts: a.cfg.Alerts.MaxAttempts,
		RatePerMin:  a.cfg.Alerts.RatePerMinute,
	}, mlog)
	history := monitor.NewHistory(a.cfg.Paths.DataDir, a.cfg.Monitoring.HistoryDays)
	reporter := monitor.NewReporter(history, a.engine, a.cfg.Paths.ReportsDir)
	maint := monitor.NewMaintenance(monitor.MaintenanceConfig{
		Engine:    a.engine,
		Store:     a.st,
		History:   history,
		LogsDir:   a.cfg.Paths.LogsDir,
		BackupDir: a.cfg.Paths.BackupDir,
	}, logging.WithComponent(a.log, "maintenance"))

	sched := monitor.NewScheduler(monitor.SchedulerConfig{
		Config:      a.cfg,
		Sampler:     sampler,
		Evaluator:   evaluator,
		Dispatcher:  dispatcher,
		History:     history,
		Reporter:    reporter,
		Maintenance: maint,
		Engine:      a.engine,
		Metrics:     monitor.NewMetrics(),
	}, mlog)

	return sched, history, sampler
}
