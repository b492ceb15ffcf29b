package monitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/TXBk0032-1/SisterOS/internal/backup"
	"github.com/TXBk0032-1/SisterOS/internal/config"
	"github.com/TXBk0032-1/SisterOS/internal/notify"
)

// Scheduler drives the long-running monitor mode: the sampling loop, cron
// jobs for scheduled backups, digests and maintenance, the alert pipeline
// and the optional metrics endpoint.
type Scheduler struct {
	cfg         *config.Config
	sampler     *Sampler
	evaluator   *Evaluator
	dispatcher  *Dispatcher
	history     *History
	reporter    *Reporter
	maintenance *Maintenance
	engine      *backup.Engine
	metrics     *Metrics
	log         zerolog.Logger
}

type SchedulerConfig struct {
	Config      *config.Config
	Sampler     *Sampler
	Evaluator   *Evaluator
	Dispatcher  *Dispatcher
	History     *History
	Reporter    *Reporter
	Maintenance *Maintenance
	Engine      *backup.Engine
	Metrics     *Metrics
}

func NewScheduler(sc SchedulerConfig, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:         sc.Config,
		sampler:     sc.Sampler,
		evaluator:   sc.Evaluator,
		dispatcher:  sc.Dispatcher,
		history:     sc.History,
		reporter:    sc.Reporter,
		maintenance: sc.Maintenance,
		engine:      sc.Engine,
		metrics:     sc.Metrics,
		log:         log,
	}
}

// Run blocks until ctx is cancelled. One sample is taken immediately so a
// freshly started monitor has data before the first tick.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	s.registerJobs(ctx, c)
	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	if s.metrics != nil && s.cfg.Monitoring.MetricsListen != "" {
		go s.metrics.Serve(ctx, s.cfg.Monitoring.MetricsListen, s.log)
	}

	interval := s.cfg.SampleInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			// Last chance to push coalesced warnings before exit.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.dispatcher.Flush(flushCtx, true)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick collects one sample and runs it through the alert pipeline.
func (s *Scheduler) tick(ctx context.Context) {
	sample := s.sampler.Sample(ctx)
	if ctx.Err() != nil {
		return
	}

	if err := s.history.Record(sample); err != nil {
		s.log.Warn().Err(err).Msg("sample history write failed")
	}
	if s.metrics != nil {
		s.metrics.ObserveSample(&sample)
	}

	events := s.evaluator.Evaluate(sample)
	if s.metrics != nil {
		s.metrics.ObserveAlerts(events)
	}
	s.dispatcher.Dispatch(ctx, events)
	s.dispatcher.Flush(ctx, false)

	s.log.Debug().
		Float64("cpu", sample.CPUPercent).
		Float64("mem", sample.MemoryPercent).
		Float64("disk", sample.DiskPercent).
		Bool("app_up", sample.AppUp).
		Strs("degraded", sample.Degraded).
		Int("alerts", len(events)).
		Msg("sample")
}

func (s *Scheduler) registerJobs(ctx context.Context, c *cron.Cron) {
	s.addJob(c, "scheduled backup", s.cfg.Backup.Schedule, func() {
		_, err := s.engine.CreateBackup(ctx, "", backup.KindAuto, true)
		if s.metrics != nil {
			s.metrics.ObserveBackup(err)
		}
		if err != nil {
			s.log.Error().Err(err).Msg("scheduled backup failed")
			s.dispatcher.deliver(ctx, notify.SeverityCritical,
				"scheduled backup failed", err.Error())
		}
	})
	s.addJob(c, "daily report", s.cfg.Reports.DailySchedule, func() {
		if _, err := s.reporter.Generate(ReportDaily, time.Now()); err != nil {
			s.log.Error().Err(err).Msg("daily report failed")
		}
	})
	s.addJob(c, "weekly report", s.cfg.Reports.WeeklySchedule, func() {
		if _, err := s.reporter.Generate(ReportWeekly, time.Now()); err != nil {
			s.log.Error().Err(err).Msg("weekly report failed")
		}
	})
	if s.maintenance != nil {
		// Maintenance rides the backup cadence, offset an hour later so it
		// never contends with the scheduled snapshot.
		s.addJob(c, "maintenance", "0 4 * * *", func() {
			s.maintenance.Run(ctx)
		})
	}
}

func (s *Scheduler) addJob(c *cron.Cron, name, spec string, fn func()) {
	if spec == "" {
		return
	}
	if _, err := c.AddFunc(spec, fn); err != nil {
		s.log.Error().Err(err).Str("job", name).Str("spec", spec).Msg("invalid schedule")
		return
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job scheduled")
}

// ApplyConfig absorbs a hot-reloaded configuration. Only the alert rules
// and retention parameters take effect live; cadence and path changes need
// a restart.
func (s *Scheduler) ApplyConfig(cfg *config.Config) {
	s.evaluator.SetRules(cfg.Monitoring.Rules)
	s.engine.SetRule(backup.RetentionRule{
		KeepMostRecent: cfg.Backup.KeepMostRecent,
		KeepDailyFor:   cfg.Backup.KeepDailyFor,
		MaxAgeDays:     cfg.Backup.MaxAgeDays,
		MaxCount:       cfg.Backup.MaxCount,
	})
	s.log.Info().Int("rules", len(cfg.Monitoring.Rules)).Msg("configuration reloaded")
}
