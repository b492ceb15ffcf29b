package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrChannelOpen is returned while the breaker rejects deliveries to a
// notification channel that has been failing.
var ErrChannelOpen = errors.New("notification channel circuit open")

// BreakerNotifier wraps a Notifier with a circuit breaker so a dead SMTP
// server fails fast instead of costing a full timeout per alert. After
// consecutive failures the circuit opens; a cooldown later a probe delivery
// is allowed through and success closes it again.
type BreakerNotifier struct {
	inner   Notifier
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerNotifier wraps inner. The breaker trips after three consecutive
// failures and stays open for the given cooldown (default 60s).
func NewBreakerNotifier(inner Notifier, cooldown time.Duration) *BreakerNotifier {
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	settings := gobreaker.Settings{
		Name:    "notification-channel",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &BreakerNotifier{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Notify delivers through the breaker.
func (b *BreakerNotifier) Notify(ctx context.Context, severity Severity, subject, body string) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.inner.Notify(ctx, severity, subject, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrChannelOpen, err)
		}
		return err
	}
	return nil
}
