package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/TXBk0032-1/SisterOS/internal/notify"
)

const (
	alertHistoryFile = "alerts.jsonl"
	undeliveredFile  = "undelivered.jsonl"

	retryBaseDelay = 500 * time.Millisecond
)

// Dispatcher moves alert events from the evaluator to the notification
// channel. Critical events and resolutions go out immediately; warning and
// info events coalesce over the batch window into a single digest message.
// Every event is appended to the on-disk history whether or not delivery
// succeeds, and events the channel refuses after all retries are parked in
// a separate undelivered file for the operator.
type Dispatcher struct {
	notifier    notify.Notifier
	dataDir     string
	batchWindow time.Duration
	maxAttempts int
	limiter     *rate.Limiter
	log         zerolog.Logger

	mu       sync.Mutex
	pending  map[string]AlertEvent // keyed by DedupKey, latest wins
	batchDue time.Time
}

type DispatcherConfig struct {
	Notifier    notify.Notifier
	DataDir     string
	BatchWindow time.Duration
	MaxAttempts int
	RatePerMin  int
}

func NewDispatcher(cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 12
	}
	return &Dispatcher{
		notifier:    cfg.Notifier,
		dataDir:     cfg.DataDir,
		batchWindow: cfg.BatchWindow,
		maxAttempts: cfg.MaxAttempts,
		limiter:     rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60), cfg.RatePerMin),
		log:         log,
		pending:     map[string]AlertEvent{},
	}
}

// Dispatch records and routes a batch of evaluator output.
func (d *Dispatcher) Dispatch(ctx context.Context, events []AlertEvent) {
	for _, ev := range events {
		if err := appendJSONL(filepath.Join(d.dataDir, alertHistoryFile), ev); err != nil {
			d.log.Warn().Err(err).Msg("alert history append failed")
		}

		if ev.Severity == notify.SeverityCritical || ev.Resolved {
			d.deliver(ctx, ev.Severity, ev.Subject(), d.body(ev))
			continue
		}

		d.mu.Lock()
		if len(d.pending) == 0 {
			d.batchDue = time.Now().Add(d.batchWindow)
		}
		d.pending[ev.DedupKey()] = ev
		d.mu.Unlock()
	}
}

// Flush sends the coalesced batch if its window has elapsed. The scheduler
// calls this on every tick; force sends regardless of the window (shutdown).
func (d *Dispatcher) Flush(ctx context.Context, force bool) {
	d.mu.Lock()
	if len(d.pending) == 0 || (!force && time.Now().Before(d.batchDue)) {
		d.mu.Unlock()
		return
	}
	batch := make([]AlertEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = map[string]AlertEvent{}
	d.mu.Unlock()

	severity := notify.SeverityInfo
	lines := make([]string, 0, len(batch))
	for _, ev := range batch {
		if ev.Severity == notify.SeverityWarning {
			severity = notify.SeverityWarning
		}
		lines = append(lines, ev.Subject())
	}

	subject := fmt.Sprintf("%d health alert(s)", len(batch))
	if len(batch) == 1 {
		subject = batch[0].Subject()
	}
	d.deliver(ctx, severity, subject, strings.Join(lines, "\n"))
}

func (d *Dispatcher) body(ev AlertEvent) string {
	return fmt.Sprintf("rule=%s metric=%s value=%.4g threshold=%.4g op=%s at=%s",
		ev.RuleID, ev.Metric, ev.Value, ev.Threshold, ev.Op, ev.FiredAt.Format(time.RFC3339))
}

func (d *Dispatcher) deliver(ctx context.Context, severity notify.Severity, subject, body string) {
	if err := d.limiter.Wait(ctx); err != nil {
		d.park(severity, subject, body, err)
		return
	}

	var err error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				d.park(severity, subject, body, ctx.Err())
				return
			}
		}
		if err = d.notifier.Notify(ctx, severity, subject, body); err == nil {
			return
		}
		d.log.Warn().Err(err).Int("attempt", attempt+1).Str("subject", subject).
			Msg("notification delivery failed")
	}
	d.park(severity, subject, body, err)
}

type undeliveredRecord struct {
	Severity notify.Severity `json:"severity"`
	Subject  string          `json:"subject"`
	Body     string          `json:"body"`
	Error    string          `json:"error"`
	ParkedAt time.Time       `json:"parked_at"`
}

func (d *Dispatcher) park(severity notify.Severity, subject, body string, cause error) {
	rec := undeliveredRecord{
		Severity: severity,
		Subject:  subject,
		Body:     body,
		ParkedAt: time.Now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := appendJSONL(filepath.Join(d.dataDir, undeliveredFile), rec); err != nil {
		d.log.Error().Err(err).Str("subject", subject).Msg("could not park undelivered notification")
		return
	}
	d.log.Error().Str("subject", subject).Msg("notification parked as undelivered")
}

func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(v)
}
