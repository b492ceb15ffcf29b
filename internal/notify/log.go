package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the operational log. Used when no
// email channel is configured, and as the local record alongside one.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a notifier that logs deliveries.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the notification at a level matching its severity.
func (n *LogNotifier) Notify(_ context.Context, severity Severity, subject, body string) error {
	evt := n.log.Warn()
	switch severity {
	case SeverityCritical:
		evt = n.log.Error()
	case SeverityInfo:
		evt = n.log.Info()
	}
	evt.Str("severity", string(severity)).Str("subject", subject).Msg(body)
	return nil
}
