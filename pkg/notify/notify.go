// Package notify sends a best-effort notification when a package
// reaches a FAILED terminal state. The mail transport itself is an
// out-of-scope external collaborator, so no third-party mail SDK is
// wired here; SMTPNotifier is a thin standard-library client.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Notification is the content of one failure notification.
type Notification struct {
	RemoteID string
	Name     string
	Stage    string
	Reason   string
}

// Notifier is the seam the Orchestrator calls on a FAILED terminal
// transition. A failure to notify is always logged by the caller and
// never affects the package's own outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPNotifier sends a plain-text failure summary over SMTP.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier returns an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

// Notify sends one plain-text email summarizing the failure. It ignores
// ctx cancellation mid-send since net/smtp offers no cancellable dial;
// callers that need a hard bound should run this in a goroutine with
// their own timeout.
func (n *SMTPNotifier) Notify(ctx context.Context, note Notification) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("notify: no recipients configured")
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	subject := fmt.Sprintf("MetaCam ingest failed: %s", note.Name)
	body := fmt.Sprintf(
		"Package %s (remote id %s) failed at stage %s.\n\nReason: %s\n",
		note.Name, note.RemoteID, note.Stage, note.Reason,
	)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.From, strings.Join(n.cfg.To, ", "), subject, body)

	return smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, []byte(msg))
}

// NopNotifier discards every notification. Used when
// ENABLE_EMAIL_NOTIFICATIONS is unset.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, n Notification) error { return nil }
