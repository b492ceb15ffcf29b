// Package monitor implements health sampling, threshold evaluation, alert
// dispatch, digest reporting and the scheduler that drives them.
package monitor

import (
	"time"
)

// Probe names, also used in HealthSample.Degraded when a probe misses its
// time box.
const (
	probeSystem = "system"
	probeDisk   = "disk"
	probeStore  = "store"
	probeLogs   = "logs"
)

// HealthSample is one timestamped metric bundle. Immutable once recorded.
// A probe that timed out leaves its fields zeroed and its name in Degraded;
// Metric treats those fields as unknown.
type HealthSample struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	StoreSizeBytes int64     `json:"store_size_bytes"`
	StoreLatencyMS float64   `json:"store_latency_ms"`
	AppUp          bool      `json:"app_up"`
	LogErrorCount  int       `json:"log_error_count"`
	Degraded       []string  `json:"degraded,omitempty"`
}

// IsDegraded reports whether the named probe missed its bound this sample.
func (s *HealthSample) IsDegraded(probe string) bool {
	for _, d := range s.Degraded {
		if d == probe {
			return true
		}
	}
	return false
}

// Metric returns a named metric value for threshold evaluation. The boolean
// is false when the backing probe was degraded this sample, so rules do not
// fire on zeroed placeholders. Liveness is exposed as app_up ∈ {0, 1}; a
// timed-out liveness probe is a real DOWN, not unknown.
func (s *HealthSample) Metric(name string) (float64, bool) {
	switch name {
	case "cpu_percent":
		return s.CPUPercent, !s.IsDegraded(probeSystem)
	case "memory_percent":
		return s.MemoryPercent, !s.IsDegraded(probeSystem)
	case "disk_percent":
		return s.DiskPercent, !s.IsDegraded(probeDisk)
	case "store_latency_ms":
		return s.StoreLatencyMS, !s.IsDegraded(probeStore)
	case "store_size_bytes":
		return float64(s.StoreSizeBytes), !s.IsDegraded(probeStore)
	case "log_errors":
		return float64(s.LogErrorCount), !s.IsDegraded(probeLogs)
	case "app_up":
		if s.AppUp {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
