package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/TXBk0032-1/SisterOS/internal/config"
	"github.com/TXBk0032-1/SisterOS/internal/notify"
)

// AlertEvent is one threshold crossing, in either direction.
type AlertEvent struct {
	RuleID    string          `json:"rule_id"`
	Metric    string          `json:"metric"`
	Severity  notify.Severity `json:"severity"`
	Value     float64         `json:"value"`
	Threshold float64         `json:"threshold"`
	Op        string          `json:"op"`
	Resolved  bool            `json:"resolved"`
	FiredAt   time.Time       `json:"fired_at"`
}

// DedupKey identifies the condition regardless of the measured value, so
// repeated firings of the same rule collapse to one notification stream.
func (e AlertEvent) DedupKey() string {
	return e.RuleID + ":" + e.Metric
}

// Subject is the one-line operator-facing summary.
func (e AlertEvent) Subject() string {
	if e.Resolved {
		return fmt.Sprintf("RESOLVED: %s (%s back within threshold)", e.RuleID, e.Metric)
	}
	return fmt.Sprintf("%s: %s %s %.4g (threshold %.4g)", e.RuleID, e.Metric, e.Op, e.Value, e.Threshold)
}

type ruleState struct {
	active      bool
	lastFiredAt time.Time
}

// Evaluator turns health samples into alert events. Firing is
// edge-triggered: a rule fires when its condition first becomes true,
// re-fires while it stays true only after the rule's cooldown, and emits
// exactly one resolved event when the condition clears.
type Evaluator struct {
	mu    sync.Mutex
	rules []config.ThresholdRule
	state map[string]*ruleState
	now   func() time.Time
}

func NewEvaluator(rules []config.ThresholdRule) *Evaluator {
	return &Evaluator{
		rules: append([]config.ThresholdRule(nil), rules...),
		state: map[string]*ruleState{},
		now:   time.Now,
	}
}

// SetRules swaps the rule set on a config reload. State is carried over by
// rule ID so an active alert does not re-fire just because the file changed;
// rules that disappear drop their state without a resolved event.
func (ev *Evaluator) SetRules(rules []config.ThresholdRule) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	keep := map[string]*ruleState{}
	for _, r := range rules {
		if st, ok := ev.state[r.ID]; ok {
			keep[r.ID] = st
		}
	}
	ev.rules = append([]config.ThresholdRule(nil), rules...)
	ev.state = keep
}

// Evaluate runs every rule against one sample. A metric the sample could not
// measure (a degraded probe) is skipped entirely: no firing, no resolving.
func (ev *Evaluator) Evaluate(sample HealthSample) []AlertEvent {
	ev.mu.Lock()
	defer ev.mu.Unlock()

	now := ev.now()
	var events []AlertEvent
	for _, rule := range ev.rules {
		value, ok := sample.Metric(rule.Metric)
		if !ok {
			continue
		}
		breached := compare(value, rule.Op, rule.Threshold)

		st := ev.state[rule.ID]
		if st == nil {
			st = &ruleState{}
			ev.state[rule.ID] = st
		}

		switch {
		case breached && !st.active:
			st.active = true
			st.lastFiredAt = now
			events = append(events, ev.event(rule, value, now, false))
		case breached && st.active:
			cooldown := time.Duration(rule.CooldownSeconds) * time.Second
			if now.Sub(st.lastFiredAt) >= cooldown {
				st.lastFiredAt = now
				events = append(events, ev.event(rule, value, now, false))
			}
		case !breached && st.active:
			st.active = false
			events = append(events, ev.event(rule, value, now, true))
		}
	}
	return events
}

func (ev *Evaluator) event(rule config.ThresholdRule, value float64, at time.Time, resolved bool) AlertEvent {
	return AlertEvent{
		RuleID:    rule.ID,
		Metric:    rule.Metric,
		Severity:  notify.Severity(rule.Severity),
		Value:     value,
		Threshold: rule.Threshold,
		Op:        rule.Op,
		Resolved:  resolved,
		FiredAt:   at,
	}
}

// ActiveCount reports how many rules are currently in the breached state.
func (ev *Evaluator) ActiveCount() int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	n := 0
	for _, st := range ev.state {
		if st.active {
			n++
		}
	}
	return n
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	default:
		return false
	}
}
