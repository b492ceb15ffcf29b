package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig holds SMTP delivery settings.
type EmailConfig struct {
	Server     string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
	Timeout    time.Duration // per-delivery bound (default: 10s)
}

// EmailNotifier sends notifications over SMTP with STARTTLS.
type EmailNotifier struct {
	cfg EmailConfig
}

// NewEmailNotifier validates the config and returns the notifier.
func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.Server == "" || cfg.From == "" || len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("email notifier needs server, from address and recipients")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EmailNotifier{cfg: cfg}, nil
}

// Notify sends one message. The SMTP exchange runs on its own goroutine so
// the ctx deadline holds even when the server accepts the connection and
// then stalls.
func (n *EmailNotifier) Notify(ctx context.Context, severity Severity, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	msg := n.buildMessage(severity, subject, body)
	addr := fmt.Sprintf("%s:%d", n.cfg.Server, n.cfg.Port)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Server)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, n.cfg.From, n.cfg.Recipients, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
	}
}

func (n *EmailNotifier) buildMessage(severity Severity, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(n.cfg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: [SisterOS-%s] %s\r\n", strings.ToUpper(string(severity)), subject)
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
