package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier delivers a message to a recipient. Sends are best-effort and
// fire-and-forget; callers log failures and never retry within a cycle.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailOptions parameterise the SMTP notifier.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// EmailNotifier 通过 SMTP 推送邮件。
type EmailNotifier struct {
	opts   EmailOptions
	logger zerolog.Logger
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier constructs an SMTP-backed notifier.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &EmailNotifier{
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
		send:   smtp.SendMail,
	}
}

// Send delivers one email. The deadline comes from either ctx or the
// configured timeout, whichever is tighter.
func (n *EmailNotifier) Send(ctx context.Context, to, subject, body string) error {
	if n.opts.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if to == "" {
		return fmt.Errorf("recipient address required")
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	msg := renderEmail(n.opts.From, to, subject, body)
	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)

	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}

	// net/smtp has no context support; run the send in a goroutine and
	// abandon it when the deadline fires.
	done := make(chan error, 1)
	go func() {
		done <- n.send(addr, auth, n.opts.From, []string{to}, msg)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
	}

	n.logger.Info().Str("to", to).Str("subject", subject).Msg("邮件已发送")
	return nil
}

func renderEmail(from, to, subject, body string) []byte {
	builder := strings.Builder{}
	builder.WriteString("From: " + from + "\r\n")
	builder.WriteString("To: " + to + "\r\n")
	builder.WriteString("Subject: " + subject + "\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	builder.WriteString("\r\n")
	builder.WriteString(body)
	builder.WriteString("\r\n")
	return []byte(builder.String())
}

var _ Notifier = (*EmailNotifier)(nil)
