package monitor

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	sampleHistoryFile = "samples.jsonl"

	// ringCapacity bounds the in-memory tail of recent samples used for
	// status output; full-window queries go to the file.
	ringCapacity = 2880
)

// History persists health samples and answers time-window queries for
// report generation. Recent samples are also kept in a bounded in-memory
// ring so status commands do not need to touch the file.
type History struct {
	dataDir     string
	historyDays int

	mu   sync.Mutex
	ring []HealthSample
}

func NewHistory(dataDir string, historyDays int) *History {
	if historyDays <= 0 {
		historyDays = 30
	}
	return &History{dataDir: dataDir, historyDays: historyDays}
}

// Record appends one sample to the ring and the on-disk history.
func (h *History) Record(sample HealthSample) error {
	h.mu.Lock()
	h.ring = append(h.ring, sample)
	if len(h.ring) > ringCapacity {
		h.ring = h.ring[len(h.ring)-ringCapacity:]
	}
	h.mu.Unlock()

	return appendJSONL(filepath.Join(h.dataDir, sampleHistoryFile), sample)
}

// Latest returns the most recent recorded sample, if any.
func (h *History) Latest() (HealthSample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ring) == 0 {
		return HealthSample{}, false
	}
	return h.ring[len(h.ring)-1], true
}

// SamplesBetween reads the persisted history for [from, to). Unparseable
// lines are skipped so one corrupt record never blocks a report.
func (h *History) SamplesBetween(from, to time.Time) ([]HealthSample, error) {
	var out []HealthSample
	err := scanJSONL(filepath.Join(h.dataDir, sampleHistoryFile), func(line []byte) {
		var s HealthSample
		if json.Unmarshal(line, &s) != nil {
			return
		}
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	})
	return out, err
}

// AlertsBetween reads the persisted alert history for [from, to).
func (h *History) AlertsBetween(from, to time.Time) ([]AlertEvent, error) {
	var out []AlertEvent
	err := scanJSONL(filepath.Join(h.dataDir, alertHistoryFile), func(line []byte) {
		var ev AlertEvent
		if json.Unmarshal(line, &ev) != nil {
			return
		}
		if !ev.FiredAt.Before(from) && ev.FiredAt.Before(to) {
			out = append(out, ev)
		}
	})
	return out, err
}

// Compact rewrites the sample history keeping only entries newer than the
// retention horizon. Maintenance runs this; losing the tail of very old
// samples only affects reports that nobody can still request.
func (h *History) Compact(now time.Time) error {
	horizon := now.AddDate(0, 0, -h.historyDays)
	path := filepath.Join(h.dataDir, sampleHistoryFile)

	var kept []HealthSample
	if err := scanJSONL(path, func(line []byte) {
		var s HealthSample
		if json.Unmarshal(line, &s) != nil {
			return
		}
		if s.Timestamp.After(horizon) {
			kept = append(kept, s)
		}
	}); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, s := range kept {
		if err := enc.Encode(s); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func scanJSONL(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		fn(sc.Bytes())
	}
	return sc.Err()
}
