package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TXBk0032-1/SisterOS/internal/config"
	"github.com/TXBk0032-1/SisterOS/internal/monitor"
	"github.com/TXBk0032-1/SisterOS/internal/notify"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the continuous monitoring loop",
	Long: `Monitor samples host and application health on an interval, evaluates
the configured threshold rules, delivers alerts, and runs the scheduled
backup, report and maintenance jobs. It runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		sched, _, _ := a.monitorStack()

		watcher := config.NewWatcher(configPath, a.log, sched.ApplyConfig)
		if err := watcher.Start(); err != nil {
			a.log.Warn().Err(err).Msg("config watcher unavailable, live reload disabled")
		} else {
			defer watcher.Stop()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.log.Info().
			Dur("interval", a.cfg.SampleInterval()).
			Str("channel", a.cfg.Alerts.Channel).
			Msg("monitor started")

		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.log.Info().Msg("monitor stopped")
		return nil
	},
}

var (
	checkHealth      bool
	checkMetrics     bool
	checkDatabase    bool
	checkApplication bool
	checkLogs        bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Take one health sample and print it",
	Long: `Check collects a single health sample, prints it, and exits with a
non-zero status if a critical threshold rule is breached. With no scope
flags every section is shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		_, _, sampler := a.monitorStack()

		sample := sampler.Sample(cmd.Context())

		all := !checkHealth && !checkMetrics && !checkDatabase && !checkApplication && !checkLogs
		if all || checkMetrics {
			fmt.Printf("CPU:           %.1f%%\n", sample.CPUPercent)
			fmt.Printf("Memory:        %.1f%%\n", sample.MemoryPercent)
			fmt.Printf("Disk:          %.1f%%\n", sample.DiskPercent)
		}
		if all || checkDatabase {
			fmt.Printf("Store size:    %s\n", humanize.Bytes(uint64(sample.StoreSizeBytes)))
			fmt.Printf("Store latency: %.1f ms\n", sample.StoreLatencyMS)
		}
		if all || checkApplication {
			appState := "DOWN"
			if !a.client.Configured() {
				appState = "not configured"
			} else if sample.AppUp {
				appState = "UP"
			}
			fmt.Printf("Application:   %s\n", appState)
		}
		if all || checkLogs {
			fmt.Printf("New log errors: %d\n", sample.LogErrorCount)
		}
		if (all || checkHealth) && len(sample.Degraded) > 0 {
			fmt.Printf("Degraded probes: %s\n", strings.Join(sample.Degraded, ", "))
		}

		var critical []string
		for _, ev := range monitor.NewEvaluator(a.cfg.Monitoring.Rules).Evaluate(sample) {
			line := fmt.Sprintf("%s: %s=%.4g (threshold %g)", ev.RuleID, ev.Metric, ev.Value, ev.Threshold)
			fmt.Printf("BREACH [%s] %s\n", ev.Severity, line)
			if ev.Severity == notify.SeverityCritical {
				critical = append(critical, ev.RuleID)
			}
		}
		if len(critical) > 0 {
			return fmt.Errorf("critical thresholds breached: %s", strings.Join(critical, ", "))
		}
		fmt.Println("All thresholds OK.")
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkHealth, "health", false, "show degraded probes")
	checkCmd.Flags().BoolVar(&checkMetrics, "metrics", false, "show host metrics")
	checkCmd.Flags().BoolVar(&checkDatabase, "database", false, "show store size and latency")
	checkCmd.Flags().BoolVar(&checkApplication, "application", false, "show application liveness")
	checkCmd.Flags().BoolVar(&checkLogs, "logs", false, "show new error-log count")
}
