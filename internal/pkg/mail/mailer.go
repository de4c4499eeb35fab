package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/OrderFox/internal/pkg/env"
)

// ErrEmailSend wraps every transport failure.
var ErrEmailSend = errors.New("email send failed")

// Message is one rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer submits a message and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// NewMailerFromConfig picks the transport configured by MAIL_PROVIDER.
func NewMailerFromConfig(cfg *env.Config) (Mailer, error) {
	switch strings.ToLower(cfg.MailProvider) {
	case "resend", "":
		m, err := NewResendMailer(cfg.ResendAPIURL, cfg.ResendAPIKey)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "smtp":
		return &SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}, nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrEmailSend)
	}
	if strings.TrimSpace(msg.From) == "" {
		return fmt.Errorf("%w: sender is required", ErrEmailSend)
	}
	return nil
}
