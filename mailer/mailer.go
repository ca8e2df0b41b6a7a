// Package mailer delivers rendered sequence emails over SMTP.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"stillpoint/automation"
	"stillpoint/config"
)

// SMTPMailer implements automation.Mailer on top of gomail. Every send is
// bounded by Timeout; a timed-out dial is reported as a transient delivery
// failure so the processor retries it on a later pass.
type SMTPMailer struct {
	cfg     config.SMTPConfig
	Timeout time.Duration
}

func NewSMTPMailer(cfg config.SMTPConfig, timeout time.Duration) *SMTPMailer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPMailer{cfg: cfg, Timeout: timeout}
}

func (m *SMTPMailer) Send(ctx context.Context, email automation.OutboundEmail) (string, error) {
	fromName := email.FromName
	fromEmail := email.FromEmail
	if fromEmail == "" {
		fromName = m.cfg.FromName
		fromEmail = m.cfg.FromEmail
	}

	// SMTP has no provider-assigned id on submission, so we mint one and
	// set it as the Message-ID header for reply/bounce correlation.
	messageID := uuid.New().String()

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", fromName, fromEmail))
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", messageID, m.cfg.Host))
	msg.SetBody("text/html", email.HTMLBody)
	if email.TextBody != "" {
		msg.AddAlternative("text/plain", email.TextBody)
	}

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)

	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	select {
	case err := <-done:
		if err != nil {
			return "", &automation.DeliveryError{Err: err}
		}
		return messageID, nil
	case <-ctx.Done():
		return "", &automation.DeliveryError{Err: fmt.Errorf("smtp send timed out after %s: %w", m.Timeout, ctx.Err())}
	}
}
