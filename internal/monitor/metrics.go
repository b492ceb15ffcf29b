package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics exposes the monitoring loop's state to Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	samplesTotal   prometheus.Counter
	degradedTotal  prometheus.Counter
	alertsTotal    *prometheus.CounterVec
	backupsTotal   *prometheus.CounterVec
	cpuPercent     prometheus.Gauge
	memoryPercent  prometheus.Gauge
	diskPercent    prometheus.Gauge
	storeLatencyMS prometheus.Gauge
	storeSizeBytes prometheus.Gauge
	appUp          prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.samplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sisteros", Name: "samples_total",
		Help: "Health samples collected.",
	})
	m.degradedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sisteros", Name: "degraded_samples_total",
		Help: "Samples with at least one failed probe.",
	})
	m.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sisteros", Name: "alerts_total",
		Help: "Alert events fired, by severity.",
	}, []string{"severity"})
	m.backupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sisteros", Name: "backups_total",
		Help: "Backup attempts, by outcome.",
	}, []string{"outcome"})
	m.cpuPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sisteros", Name: "cpu_percent", Help: "Last sampled CPU usage.",
	})
	m.memoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sisteros", Name: "memory_percent", Help: "Last sampled memory usage.",
	})
	m.diskPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sisteros", Name: "disk_percent", Help: "Last sampled disk usage of the store volume.",
	})
	m.storeLatencyMS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sisteros", Name: "store_latency_ms", Help: "Last sampled store query latency.",
	})
	m.storeSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sisteros", Name: "store_size_bytes", Help: "Last sampled store file size.",
	})
	m.appUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sisteros", Name: "app_up", Help: "Whether the application answered its liveness probe.",
	})

	m.registry.MustRegister(
		m.samplesTotal, m.degradedTotal, m.alertsTotal, m.backupsTotal,
		m.cpuPercent, m.memoryPercent, m.diskPercent,
		m.storeLatencyMS, m.storeSizeBytes, m.appUp,
	)
	return m
}

// ObserveSample updates the gauges from one health sample.
func (m *Metrics) ObserveSample(sample *HealthSample) {
	m.samplesTotal.Inc()
	if len(sample.Degraded) > 0 {
		m.degradedTotal.Inc()
	}
	m.cpuPercent.Set(sample.CPUPercent)
	m.memoryPercent.Set(sample.MemoryPercent)
	m.diskPercent.Set(sample.DiskPercent)
	m.storeLatencyMS.Set(sample.StoreLatencyMS)
	m.storeSizeBytes.Set(float64(sample.StoreSizeBytes))
	if sample.AppUp {
		m.appUp.Set(1)
	} else {
		m.appUp.Set(0)
	}
}

func (m *Metrics) ObserveAlerts(events []AlertEvent) {
	for _, ev := range events {
		if !ev.Resolved {
			m.alertsTotal.WithLabelValues(string(ev.Severity)).Inc()
		}
	}
}

func (m *Metrics) ObserveBackup(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.backupsTotal.WithLabelValues(outcome).Inc()
}

// Serve runs the Prometheus endpoint until ctx is cancelled. A listen
// failure is logged, not fatal; monitoring continues without metrics.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics endpoint stopped")
	}
}
