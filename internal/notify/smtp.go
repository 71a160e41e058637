package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jordan-wright/email"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
)

// SMTPNotifier sends activation messages directly over SMTP.
type SMTPNotifier struct {
	cfg        config.MailConfig
	send       func(e *email.Email) error
	retryDelay time.Duration
}

// NewSMTPNotifier returns a notifier for the configured relay.
func NewSMTPNotifier(cfg config.MailConfig) *SMTPNotifier {
	n := &SMTPNotifier{cfg: cfg, retryDelay: 2 * time.Second}
	n.send = n.deliver
	return n
}

func (n *SMTPNotifier) SendActivation(ctx context.Context, msg ActivationMessage) error {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = []string{msg.To}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	err := retry.Do(
		func() error { return n.send(e) },
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(n.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTemporary),
	)
	if err != nil {
		return fmt.Errorf("send activation mail to %s: %w", msg.To, err)
	}
	return nil
}

func (n *SMTPNotifier) deliver(e *email.Email) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	tlsConfig := &tls.Config{
		ServerName: n.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	switch n.cfg.Port {
	case 465:
		return e.SendWithTLS(addr, auth, tlsConfig)
	case 587:
		return e.SendWithStartTLS(addr, auth, tlsConfig)
	default:
		return e.Send(addr, auth)
	}
}

func isTemporary(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"connection refused", "timeout", "connection reset", "broken pipe"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
