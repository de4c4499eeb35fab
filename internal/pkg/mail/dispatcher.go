package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Recipient roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Outcome reports both sends independently. Success means both attempts
// completed without error; delivery itself is not tracked.
type Outcome struct {
	CustomerEmailID string
	AdminEmailID    string
	CustomerErr     error
	AdminErr        error
	Success         bool
}

// Dispatcher renders and sends the two order emails.
type Dispatcher struct {
	mailer     Mailer
	from       string
	adminEmail string
}

func NewDispatcher(mailer Mailer, from, adminEmail string) *Dispatcher {
	return &Dispatcher{mailer: mailer, from: from, adminEmail: adminEmail}
}

// SendOrderEmails sends the customer confirmation and the operator
// notification. A failure of one never skips the other.
func (d *Dispatcher) SendOrderEmails(ctx context.Context, data OrderEmail) Outcome {
	var out Outcome

	out.CustomerEmailID, out.CustomerErr = d.Send(ctx, RoleCustomer, data)
	if out.CustomerErr != nil {
		log.Errorf("[Mail] Customer email for order %s failed: %v", data.Order.SessionID, out.CustomerErr)
	}

	out.AdminEmailID, out.AdminErr = d.Send(ctx, RoleAdmin, data)
	if out.AdminErr != nil {
		log.Errorf("[Mail] Admin email for order %s failed: %v", data.Order.SessionID, out.AdminErr)
	}

	out.Success = out.CustomerErr == nil && out.AdminErr == nil
	return out
}

// Send renders and sends the document for one role. The job queue calls it
// directly when retrying a single failed email.
func (d *Dispatcher) Send(ctx context.Context, role string, data OrderEmail) (string, error) {
	msg, err := d.Build(ctx, role, data)
	if err != nil {
		return "", err
	}
	return d.mailer.Send(ctx, msg)
}

// Build renders the message for role without sending it.
func (d *Dispatcher) Build(ctx context.Context, role string, data OrderEmail) (Message, error) {
	if data.Order == nil {
		return Message{}, fmt.Errorf("%w: order is required", ErrEmailSend)
	}
	s := StringsFor(data.Locale)

	var msg Message
	switch role {
	case RoleCustomer:
		to := strings.TrimSpace(data.Order.Customer.Email)
		if to == "" {
			return Message{}, fmt.Errorf("%w: order %s has no customer email", ErrEmailSend, data.Order.SessionID)
		}
		html, err := Render(ctx, CustomerConfirmation(data))
		if err != nil {
			return Message{}, fmt.Errorf("%w: render: %v", ErrEmailSend, err)
		}
		msg = Message{To: to, Subject: fmt.Sprintf(s.CustomerSubject, data.Order.Number()), HTML: html}
	case RoleAdmin:
		html, err := Render(ctx, AdminNotification(data))
		if err != nil {
			return Message{}, fmt.Errorf("%w: render: %v", ErrEmailSend, err)
		}
		msg = Message{To: d.adminEmail, Subject: fmt.Sprintf(s.AdminSubject, data.Order.Number()), HTML: html}
	default:
		return Message{}, fmt.Errorf("%w: unknown recipient role %q", ErrEmailSend, role)
	}

	msg.From = d.from
	return msg, nil
}
