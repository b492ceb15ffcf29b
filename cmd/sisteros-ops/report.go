package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/TXBk0032-1/SisterOS/internal/logging"
	"github.com/TXBk0032-1/SisterOS/internal/monitor"
)

var reportType string

var reportCmd = &cobra.Command{
	Use:   "report [daily|weekly]",
	Short: "Generate (or show) the digest report for the last completed window",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := reportType
		if len(args) == 1 {
			name = args[0]
		}
		var kind monitor.ReportKind
		switch name {
		case "daily":
			kind = monitor.ReportDaily
		case "weekly":
			kind = monitor.ReportWeekly
		default:
			return fmt.Errorf("unknown report kind %q, want daily or weekly", name)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		_, history, _ := a.monitorStack()
		reporter := monitor.NewReporter(history, a.engine, a.cfg.Paths.ReportsDir)

		rep, err := reporter.Generate(kind, time.Now())
		if err != nil {
			return err
		}
		renderReport(rep)
		return nil
	},
}

var (
	maintCleanup bool
	maintVacuum  bool
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Run housekeeping: retention, log cleanup, vacuum",
	Long: `Maintenance prunes archives past retention, removes old logs and
stale staging directories, compacts the sample history and vacuums the
store. --cleanup and --vacuum narrow the run to those steps; with no
flags everything runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		_, history, _ := a.monitorStack()

		scoped := maintCleanup || maintVacuum
		maint := monitor.NewMaintenance(monitor.MaintenanceConfig{
			Engine:      a.engine,
			Store:       a.st,
			History:     history,
			LogsDir:     a.cfg.Paths.LogsDir,
			BackupDir:   a.cfg.Paths.BackupDir,
			SkipCleanup: scoped && !maintCleanup,
			SkipVacuum:  scoped && !maintVacuum,
		}, logging.WithComponent(a.log, "maintenance"))

		res := maint.Run(cmd.Context())
		fmt.Printf("Pruned archives:  %d\n", len(res.PrunedArchives))
		fmt.Printf("Old logs removed: %d\n", res.LogsRemoved)
		fmt.Printf("Logs compressed:  %d\n", res.LogsCompressed)
		fmt.Printf("Temp dirs removed: %d\n", res.TempRemoved)
		fmt.Printf("Store vacuumed:   %v\n", res.Vacuumed)
		fmt.Printf("Duration:         %s\n", res.Duration.Round(time.Millisecond))
		if len(res.Errors) > 0 {
			return fmt.Errorf("maintenance finished with errors: %s", strings.Join(res.Errors, "; "))
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportType, "type", "daily", "report kind, daily or weekly")
	maintenanceCmd.Flags().BoolVar(&maintCleanup, "cleanup", false, "run retention and file cleanup only")
	maintenanceCmd.Flags().BoolVar(&maintVacuum, "vacuum", false, "run the store vacuum only")
}

func renderReport(rep *monitor.Report) {
	fmt.Printf("%s report %s to %s (generated %s)\n",
		rep.Kind,
		rep.WindowStart.Format("2006-01-02"),
		rep.WindowEnd.Format("2006-01-02"),
		rep.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Samples: %d (%d degraded, %d with application down)\n\n",
		rep.SampleCount, rep.Degraded, rep.AppDowntimes)

	if len(rep.Metrics) > 0 {
		names := make([]string, 0, len(rep.Metrics))
		for name := range rep.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Metric", "Min", "Avg", "Max", "Samples"})
		table.SetBorder(false)
		for _, name := range names {
			m := rep.Metrics[name]
			table.Append([]string{
				name,
				fmt.Sprintf("%.1f", m.Min),
				fmt.Sprintf("%.1f", m.Avg),
				fmt.Sprintf("%.1f", m.Max),
				fmt.Sprintf("%d", m.Count),
			})
		}
		table.Render()
		fmt.Println()
	}

	if len(rep.AlertCounts) > 0 {
		fmt.Print("Alerts fired:")
		for severity, n := range rep.AlertCounts {
			fmt.Printf(" %s=%d", severity, n)
		}
		fmt.Println()
	} else {
		fmt.Println("No alerts fired in this window.")
	}

	fmt.Printf("Backups: %d archives (%d verified, %d created in window), newest %s, total %s\n",
		rep.Backups.TotalArchives, rep.Backups.VerifiedCount, rep.Backups.CreatedInWindow,
		rep.Backups.NewestID, humanize.Bytes(uint64(rep.Backups.TotalSizeBytes)))
}
