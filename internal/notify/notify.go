// Package notify is the notification channel: it accepts a severity and a
// message and delivers it to operators, over email or the operational log.
package notify

import (
	"context"
	"errors"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ErrDeliveryFailed wraps any transport failure so callers can distinguish
// "could not deliver" from programming errors.
var ErrDeliveryFailed = errors.New("notification delivery failed")

// Notifier delivers one notification. Implementations must respect ctx;
// delivery to a dead transport must time out rather than hang.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, subject, body string) error
}
