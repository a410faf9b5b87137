package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"outage-tracker/pkg/types"
)

// Sender delivers email notifications. Delivery is fire-and-forget from the
// caller's perspective: the caller only needs the success flag to decide
// whether to mark a notification as sent.
type Sender interface {
	Send(to []string, subject, body string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	config types.SMTPConfig
	logger *logrus.Logger
}

// NewSMTPSender creates a new SMTPSender instance.
func NewSMTPSender(config types.SMTPConfig, logger *logrus.Logger) *SMTPSender {
	return &SMTPSender{
		config: config,
		logger: logger,
	}
}

// Send delivers one message to all recipients.
func (s *SMTPSender) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients given")
	}
	if s.config.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	msg := strings.Join([]string{
		"From: " + s.config.From,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	if err := smtp.SendMail(addr, auth, s.config.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	s.logger.WithFields(logrus.Fields{
		"recipients": len(to),
		"subject":    subject,
	}).Info("Email sent")
	return nil
}

// DisabledSender is used when no SMTP relay is configured. It refuses every
// delivery so callers never mark an email notification as sent.
type DisabledSender struct {
	Logger *logrus.Logger
}

func (d *DisabledSender) Send(to []string, subject, body string) error {
	if d.Logger != nil {
		d.Logger.WithField("subject", subject).Warn("Email delivery disabled, dropping message")
	}
	return fmt.Errorf("email delivery is not configured")
}

// SentMail captures one delivery made through MockSender.
type SentMail struct {
	To      []string
	Subject string
	Body    string
}

// MockSender is a Sender that records deliveries for assertions.
type MockSender struct {
	SendError error
	Sent      []SentMail
}

func (m *MockSender) Send(to []string, subject, body string) error {
	if m.SendError != nil {
		return m.SendError
	}
	m.Sent = append(m.Sent, SentMail{To: to, Subject: subject, Body: body})
	return nil
}
