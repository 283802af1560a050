// Package notify sends run summaries by email. Delivery is best effort: a
// failure is logged and never replaces the outcome of the run it reports on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultSMTPPort is used when the configured server has no port.
const defaultSMTPPort = "25"

// Retry defaults for a single notification.
const (
	defaultMaxRetries      = 3
	defaultInitialInterval = 2 * time.Second
)

// ErrNoServer is returned by Send when no SMTP server is configured.
var ErrNoServer = errors.New("smtp server not configured")

// Sink receives run notifications. An empty address disables delivery.
type Sink interface {
	Notify(ctx context.Context, to, subject, body string)
}

// SendFunc delivers a prepared message. smtp.SendMail without auth.
type SendFunc func(addr, from string, to []string, msg []byte) error

func sendMail(addr, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, nil, from, to, msg)
}

// Discard is a Sink that drops everything.
type Discard struct{}

// Notify implements Sink.
func (Discard) Notify(context.Context, string, string, string) {}

// Mailer is an SMTP Sink with bounded retries.
type Mailer struct {
	server string
	from   string
	send   SendFunc
	retry  func() backoff.BackOff
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithSendFunc replaces the SMTP transport.
func WithSendFunc(send SendFunc) Option {
	return func(m *Mailer) { m.send = send }
}

// WithBackOff replaces the retry policy.
func WithBackOff(policy func() backoff.BackOff) Option {
	return func(m *Mailer) { m.retry = policy }
}

// NewMailer returns a Mailer that relays through server as from.
func NewMailer(server, from string, logger *slog.Logger, opts ...Option) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Mailer{
		server: server,
		from:   from,
		send:   sendMail,
		logger: logger,
		now:    time.Now,
		retry: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = defaultInitialInterval

			return backoff.WithMaxRetries(eb, defaultMaxRetries)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Notify sends the message and swallows any failure after logging it.
// An empty to is a no-op.
func (m *Mailer) Notify(ctx context.Context, to, subject, body string) {
	if to == "" {
		return
	}

	err := m.Send(ctx, to, subject, body)
	if err != nil {
		m.logger.WarnContext(ctx, "notification not delivered",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)

		return
	}

	m.logger.InfoContext(ctx, "sent notification", slog.String("subject", subject))
}

// Send delivers one message, retrying transport errors with backoff.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if m.server == "" {
		return ErrNoServer
	}

	addr := m.server
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultSMTPPort)
	}

	msg := m.compose(to, subject, body)

	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++

		return m.send(addr, m.from, []string{to}, msg)
	}, backoff.WithContext(m.retry(), ctx), func(err error, wait time.Duration) {
		m.logger.DebugContext(ctx, "retrying notification",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
	if err != nil {
		return fmt.Errorf("send mail via %s after %d attempt(s): %w", addr, attempt, err)
	}

	return nil
}

// compose renders a plain-text RFC 5322 message.
func (m *Mailer) compose(to, subject, body string) []byte {
	var b strings.Builder

	header := [][2]string{
		{"From", m.from},
		{"To", to},
		{"Subject", subject},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", `text/plain; charset="utf-8"`},
	}

	for _, h := range header {
		b.WriteString(h[0] + ": " + h[1] + "\r\n")
	}

	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))

	return []byte(b.String())
}
