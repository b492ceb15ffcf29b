// Package config loads the operational settings for the SisterOS backup and
// monitoring tools. Settings come from a YAML file with sensible defaults
// for every option; a small set of environment variables with the SISTEROS_
// prefix override the file for deployment-specific values and secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the operational tooling.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	App        AppConfig        `yaml:"app"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Reports    ReportsConfig    `yaml:"reports"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig locates the persisted store and the directories this tooling
// owns.
type PathsConfig struct {
	StorePath  string `yaml:"store_path"`  // live SQLite store file (default: ./data/sisteros.db)
	ConfigDir  string `yaml:"config_dir"`  // application config tree included in archives (default: ./config)
	BackupDir  string `yaml:"backup_dir"`  // archive directories + catalog.json (default: ./backups)
	LogsDir    string `yaml:"logs_dir"`    // tool + application logs (default: ./logs)
	ReportsDir string `yaml:"reports_dir"` // persisted digest reports (default: ./reports)
	DataDir    string `yaml:"data_dir"`    // sample/alert history (default: ./data)
}

// BackupConfig controls archive creation and retention.
type BackupConfig struct {
	Verify   bool   `yaml:"verify"`   // re-digest archives after creation (default: true)
	Schedule string `yaml:"schedule"` // cron spec for scheduled backups, empty disables (default: "0 3 * * *")

	// Retention rule parameters. The newest verified archive is always
	// retained regardless of these.
	KeepMostRecent int `yaml:"keep_most_recent"` // newest N archives always kept (default: 3)
	KeepDailyFor   int `yaml:"keep_daily_for"`   // keep one archive per calendar day for N days, 0 disables (default: 7)
	MaxAgeDays     int `yaml:"max_age_days"`     // absolute age ceiling, 0 disables (default: 30)
	MaxCount       int `yaml:"max_count"`        // total archive cap, 0 disables (default: 0)
}

// ThresholdRule is one configured alert rule evaluated against each sample.
type ThresholdRule struct {
	ID              string  `yaml:"id"`     // stable identifier, also the dedup key
	Metric          string  `yaml:"metric"` // cpu_percent, memory_percent, disk_percent, store_latency_ms, app_up, log_errors
	Op              string  `yaml:"op"`     // gt, gte, lt, lte
	Threshold       float64 `yaml:"threshold"`
	Severity        string  `yaml:"severity"`         // info, warning, critical
	CooldownSeconds int     `yaml:"cooldown_seconds"` // repeat suppression window (default: 900)
}

// MonitoringConfig controls sampling and evaluation.
type MonitoringConfig struct {
	IntervalSeconds     int             `yaml:"interval_seconds"`      // sampling cadence (default: 60)
	ProbeTimeoutSeconds int             `yaml:"probe_timeout_seconds"` // per-probe time box (default: 2)
	HistoryDays         int             `yaml:"history_days"`          // sample retention for reports (default: 30)
	MetricsListen       string          `yaml:"metrics_listen"`        // Prometheus listen address, empty disables
	Rules               []ThresholdRule `yaml:"rules"`
}

// AppConfig describes the running application collaborator.
type AppConfig struct {
	StatusURL             string `yaml:"status_url"`              // liveness endpoint; empty means no probe target
	QuiesceTimeoutSeconds int    `yaml:"quiesce_timeout_seconds"` // bounded wait for write pause (default: 30)
}

// AlertsConfig controls alert delivery.
type AlertsConfig struct {
	Channel            string   `yaml:"channel"`              // "log" or "email" (default: log)
	BatchWindowSeconds int      `yaml:"batch_window_seconds"` // warning/info coalescing window (default: 60)
	MaxAttempts        int      `yaml:"max_attempts"`         // delivery retries before parking (default: 3)
	RatePerMinute      int      `yaml:"rate_per_minute"`      // notification channel rate limit (default: 12)
	SMTPServer         string   `yaml:"smtp_server"`
	SMTPPort           int      `yaml:"smtp_port"`
	SMTPUsername       string   `yaml:"smtp_username"`
	SMTPPassword       string   `yaml:"smtp_password"`
	FromEmail          string   `yaml:"from_email"`
	Recipients         []string `yaml:"recipients"`
}

// ReportsConfig controls digest report generation cadences.
type ReportsConfig struct {
	DailySchedule  string `yaml:"daily_schedule"`  // cron spec (default: "10 0 * * *")
	WeeklySchedule string `yaml:"weekly_schedule"` // cron spec (default: "20 0 * * 1")
}

// LoggingConfig controls tool logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
	JSON  bool   `yaml:"json"`  // JSON instead of console output
}

// Default returns the configuration used when no file exists. Defaults
// mirror what the retail deployment ships with.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			StorePath:  "./data/sisteros.db",
			ConfigDir:  "./config",
			BackupDir:  "./backups",
			LogsDir:    "./logs",
			ReportsDir: "./reports",
			DataDir:    "./data",
		},
		Backup: BackupConfig{
			Verify:         true,
			Schedule:       "0 3 * * *",
			KeepMostRecent: 3,
			KeepDailyFor:   7,
			MaxAgeDays:     30,
		},
		Monitoring: MonitoringConfig{
			IntervalSeconds:     60,
			ProbeTimeoutSeconds: 2,
			HistoryDays:         30,
			Rules: []ThresholdRule{
				{ID: "cpu-high", Metric: "cpu_percent", Op: "gt", Threshold: 80, Severity: "warning", CooldownSeconds: 900},
				{ID: "memory-high", Metric: "memory_percent", Op: "gt", Threshold: 85, Severity: "warning", CooldownSeconds: 900},
				{ID: "disk-high", Metric: "disk_percent", Op: "gt", Threshold: 90, Severity: "critical", CooldownSeconds: 900},
				{ID: "store-slow", Metric: "store_latency_ms", Op: "gt", Threshold: 5000, Severity: "warning", CooldownSeconds: 900},
				{ID: "app-down", Metric: "app_up", Op: "lt", Threshold: 1, Severity: "critical", CooldownSeconds: 300},
			},
		},
		App: AppConfig{
			QuiesceTimeoutSeconds: 30,
		},
		Alerts: AlertsConfig{
			Channel:            "log",
			BatchWindowSeconds: 60,
			MaxAttempts:        3,
			RatePerMinute:      12,
			SMTPPort:           587,
		},
		Reports: ReportsConfig{
			DailySchedule:  "10 0 * * *",
			WeeklySchedule: "20 0 * * 1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path, layers environment overrides on top and
// validates the result. A missing file is not an error: defaults plus env
// overrides are returned, so the tools work out of the box.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers SISTEROS_-prefixed overrides over the file values.
// Secrets (the SMTP password in particular) are the main use.
func applyEnv(cfg *Config) {
	cfg.Paths.StorePath = getEnv("SISTEROS_STORE_PATH", cfg.Paths.StorePath)
	cfg.Paths.BackupDir = getEnv("SISTEROS_BACKUP_DIR", cfg.Paths.BackupDir)
	cfg.Paths.LogsDir = getEnv("SISTEROS_LOGS_DIR", cfg.Paths.LogsDir)
	cfg.App.StatusURL = getEnv("SISTEROS_APP_STATUS_URL", cfg.App.StatusURL)
	cfg.Alerts.SMTPPassword = getEnv("SISTEROS_SMTP_PASSWORD", cfg.Alerts.SMTPPassword)
	cfg.Logging.Level = getEnv("SISTEROS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Monitoring.IntervalSeconds = getEnvInt("SISTEROS_MONITOR_INTERVAL", cfg.Monitoring.IntervalSeconds)
}

func (c *Config) validate() error {
	if c.Paths.StorePath == "" {
		return fmt.Errorf("config: paths.store_path is required")
	}
	if c.Paths.BackupDir == "" {
		return fmt.Errorf("config: paths.backup_dir is required")
	}
	if c.Monitoring.IntervalSeconds <= 0 {
		c.Monitoring.IntervalSeconds = 60
	}
	if c.Monitoring.ProbeTimeoutSeconds <= 0 {
		c.Monitoring.ProbeTimeoutSeconds = 2
	}
	if c.App.QuiesceTimeoutSeconds <= 0 {
		c.App.QuiesceTimeoutSeconds = 30
	}
	if c.Alerts.MaxAttempts <= 0 {
		c.Alerts.MaxAttempts = 3
	}
	for i := range c.Monitoring.Rules {
		r := &c.Monitoring.Rules[i]
		if r.ID == "" || r.Metric == "" {
			return fmt.Errorf("config: monitoring rule %d needs id and metric", i)
		}
		switch r.Op {
		case "gt", "gte", "lt", "lte":
		default:
			return fmt.Errorf("config: rule %s: unknown op %q", r.ID, r.Op)
		}
		switch r.Severity {
		case "info", "warning", "critical":
		default:
			return fmt.Errorf("config: rule %s: unknown severity %q", r.ID, r.Severity)
		}
		if r.CooldownSeconds <= 0 {
			r.CooldownSeconds = 900
		}
	}
	return nil
}

// SampleInterval returns the monitoring cadence as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Monitoring.IntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe time box as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Monitoring.ProbeTimeoutSeconds) * time.Second
}

// QuiesceTimeout returns the bounded wait for an application write pause.
func (c *Config) QuiesceTimeout() time.Duration {
	return time.Duration(c.App.QuiesceTimeoutSeconds) * time.Second
}

// EnsureDirs creates the directories this tooling owns.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Paths.BackupDir,
		c.Paths.LogsDir,
		c.Paths.ReportsDir,
		c.Paths.DataDir,
		filepath.Dir(c.Paths.StorePath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparsable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
