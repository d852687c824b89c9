// Package mailer sends transactional email: password-reset codes,
// appointment confirmations, and bill receipts. Templates use simple
// {{key}} substitution so clinic staff can adjust wording without a
// deploy.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sender delivers a single email message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds the connection settings for the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

// LogSender writes mail to the log instead of delivering it; used in
// development when no SMTP relay is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("outbound email (log sender)")
	return nil
}

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithMaxAttempts sets how many times a message is tried before the
// last send error is returned.
func WithMaxAttempts(n int) Option {
	return func(m *Mailer) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Mailer) { m.retryDelay = d }
}

// Mailer renders templates and dispatches the result through a Sender.
// Transient relay failures are retried a bounded number of times.
type Mailer struct {
	sender      Sender
	maxAttempts int
	retryDelay  time.Duration

	mu        sync.RWMutex
	templates map[string]*Template
}

func New(sender Sender, opts ...Option) *Mailer {
	m := &Mailer{
		sender:      sender,
		maxAttempts: 3,
		retryDelay:  2 * time.Second,
		templates:   make(map[string]*Template),
	}
	for _, o := range opts {
		o(m)
	}
	m.registerBuiltIn()
	return m
}

func (m *Mailer) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "password-reset-otp",
			Subject: "Your password reset code",
			Body:    "Hello {{name}},\n\nYour password reset code is {{otp}}. It expires in {{expiry_minutes}} minutes.\n\nIf you did not request this, ignore this email.",
		},
		{
			ID:      "appointment-confirmation",
			Subject: "Appointment confirmed for {{date}}",
			Body:    "Dear {{patient_name}},\n\nYour appointment with {{doctor_name}} is confirmed for {{date}} at {{time}}. Your queue token is {{token_number}}.",
		},
		{
			ID:      "bill-receipt",
			Subject: "Receipt for bill #{{bill_no}}",
			Body:    "Dear {{patient_name}},\n\nPayment of {{amount}} for bill #{{bill_no}} has been recorded. Thank you.",
		},
		{
			ID:      "staff-welcome",
			Subject: "Your clinic account is ready",
			Body:    "Hello {{name}},\n\nAn account has been created for you at {{clinic_name}}. Sign in with this email address to get started.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		m.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (m *Mailer) RegisterTemplate(t Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = &t
}

// Render looks up a template and substitutes {{key}} placeholders. Keys
// present in the template but absent from data are left as-is.
func (m *Mailer) Render(templateID string, data map[string]string) (subject, body string, err error) {
	m.mu.RLock()
	t, ok := m.templates[templateID]
	m.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// SendTemplate renders templateID with data and sends it to the
// recipient, retrying failed sends up to the configured attempt count.
func (m *Mailer) SendTemplate(ctx context.Context, to, templateID string, data map[string]string) error {
	subject, body, err := m.Render(templateID, data)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
		if lastErr = m.sender.Send(ctx, to, subject, body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("send %q to %s after %d attempts: %w", templateID, to, m.maxAttempts, lastErr)
}
