package monitor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TXBk0032-1/SisterOS/internal/notify"
)

type capturedNote struct {
	severity notify.Severity
	subject  string
	body     string
}

// fakeNotifier records deliveries and can be told to fail.
type fakeNotifier struct {
	mu    sync.Mutex
	notes []capturedNote
	fail  bool
}

func (f *fakeNotifier) Notify(_ context.Context, severity notify.Severity, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return notify.ErrDeliveryFailed
	}
	f.notes = append(f.notes, capturedNote{severity, subject, body})
	return nil
}

func (f *fakeNotifier) sent() []capturedNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]capturedNote, len(f.notes))
	copy(out, f.notes)
	return out
}

func newTestDispatcher(t *testing.T, fn *fakeNotifier, window time.Duration) *Dispatcher {
	t.Helper()
	return NewDispatcher(DispatcherConfig{
		Notifier:    fn,
		DataDir:     t.TempDir(),
		BatchWindow: window,
		MaxAttempts: 2,
		RatePerMin:  600,
	}, testLogger())
}

func criticalEvent(rule string) AlertEvent {
	return AlertEvent{
		RuleID: rule, Metric: "disk_percent", Severity: notify.SeverityCritical,
		Value: 95, Threshold: 90, Op: "gt", FiredAt: time.Now(),
	}
}

func warningEvent(rule string) AlertEvent {
	return AlertEvent{
		RuleID: rule, Metric: "cpu_percent", Severity: notify.SeverityWarning,
		Value: 85, Threshold: 80, Op: "gt", FiredAt: time.Now(),
	}
}

// TestDispatcherCriticalImmediate tests that critical events bypass the
// batch window.
func TestDispatcherCriticalImmediate(t *testing.T) {
	fn := &fakeNotifier{}
	d := newTestDispatcher(t, fn, time.Hour)

	d.Dispatch(context.Background(), []AlertEvent{criticalEvent("disk-high")})

	notes := fn.sent()
	if len(notes) != 1 {
		t.Fatalf("expected immediate delivery, got %d notes", len(notes))
	}
	if notes[0].severity != notify.SeverityCritical {
		t.Errorf("expected critical severity, got %s", notes[0].severity)
	}
}

// TestDispatcherBatchesWarnings tests that warnings wait for the window
// and coalesce into one message.
func TestDispatcherBatchesWarnings(t *testing.T) {
	fn := &fakeNotifier{}
	d := newTestDispatcher(t, fn, 50*time.Millisecond)

	d.Dispatch(context.Background(), []AlertEvent{warningEvent("cpu-high"), warningEvent("memory-high")})

	d.Flush(context.Background(), false)
	if got := len(fn.sent()); got != 0 {
		t.Fatalf("batch sent before window elapsed: %d notes", got)
	}

	time.Sleep(60 * time.Millisecond)
	d.Flush(context.Background(), false)

	notes := fn.sent()
	if len(notes) != 1 {
		t.Fatalf("expected one coalesced message, got %d", len(notes))
	}
	if !strings.Contains(notes[0].body, "cpu-high") || !strings.Contains(notes[0].body, "memory-high") {
		t.Errorf("coalesced body missing rules: %q", notes[0].body)
	}
}

// TestDispatcherDedupsPendingByRule tests that repeat events for the same
// condition collapse to one entry in the batch.
func TestDispatcherDedupsPendingByRule(t *testing.T) {
	fn := &fakeNotifier{}
	d := newTestDispatcher(t, fn, time.Millisecond)

	d.Dispatch(context.Background(), []AlertEvent{warningEvent("cpu-high")})
	d.Dispatch(context.Background(), []AlertEvent{warningEvent("cpu-high")})

	time.Sleep(5 * time.Millisecond)
	d.Flush(context.Background(), false)

	notes := fn.sent()
	if len(notes) != 1 {
		t.Fatalf("expected one message, got %d", len(notes))
	}
	if strings.Count(notes[0].body, "cpu-high") != 1 {
		t.Errorf("duplicate rule in batch body: %q", notes[0].body)
	}
}

// TestDispatcherForceFlush tests that shutdown flushes regardless of the
// window.
func TestDispatcherForceFlush(t *testing.T) {
	fn := &fakeNotifier{}
	d := newTestDispatcher(t, fn, time.Hour)

	d.Dispatch(context.Background(), []AlertEvent{warningEvent("cpu-high")})
	d.Flush(context.Background(), true)

	if got := len(fn.sent()); got != 1 {
		t.Fatalf("force flush delivered %d notes", got)
	}
}

// TestDispatcherParksUndeliverable tests that events the channel keeps
// refusing land in the undelivered file.
func TestDispatcherParksUndeliverable(t *testing.T) {
	fn := &fakeNotifier{fail: true}
	dataDir := t.TempDir()
	d := NewDispatcher(DispatcherConfig{
		Notifier:    fn,
		DataDir:     dataDir,
		BatchWindow: time.Hour,
		MaxAttempts: 2,
		RatePerMin:  600,
	}, testLogger())

	d.Dispatch(context.Background(), []AlertEvent{criticalEvent("disk-high")})

	parked, err := os.ReadFile(filepath.Join(dataDir, undeliveredFile))
	if err != nil {
		t.Fatalf("undelivered file: %v", err)
	}
	if !strings.Contains(string(parked), "disk-high") {
		t.Errorf("parked record missing subject: %q", parked)
	}
}

// TestDispatcherWritesHistory tests that every event is appended to the
// alert history whether batched or immediate.
func TestDispatcherWritesHistory(t *testing.T) {
	fn := &fakeNotifier{}
	dataDir := t.TempDir()
	d := NewDispatcher(DispatcherConfig{
		Notifier:    fn,
		DataDir:     dataDir,
		BatchWindow: time.Hour,
		MaxAttempts: 2,
		RatePerMin:  600,
	}, testLogger())

	d.Dispatch(context.Background(), []AlertEvent{criticalEvent("disk-high"), warningEvent("cpu-high")})

	history, err := os.ReadFile(filepath.Join(dataDir, alertHistoryFile))
	if err != nil {
		t.Fatalf("history file: %v", err)
	}
	if got := strings.Count(string(history), "\n"); got != 2 {
		t.Errorf("expected 2 history lines, got %d", got)
	}
}
