package mail

import (
	"context"
	"fmt"
	"mime"
	netmail "net/mail"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmailSend, err)
	}

	var auth smtp.Auth
	if m.Username != "" && m.Password != "" {
		auth = smtp.PlainAuth("", m.Username, m.Password, m.Host)
	}

	addr := fmt.Sprintf("%s:%s", m.Host, m.Port)
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(msg.From))

	raw := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMessage-ID: %s\r\n",
			msg.From, msg.To, mime.QEncoding.Encode("utf-8", msg.Subject), messageID) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.HTML,
	)

	send := m.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, envelopeAddress(msg.From), []string{msg.To}, raw); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return "", fmt.Errorf("%w: %v", ErrEmailSend, err)
	}

	log.Infof("[Mail] Email sent to %s via %s", msg.To, addr)
	return messageID, nil
}

// envelopeAddress strips a display name: "Shop <a@b.c>" -> "a@b.c".
func envelopeAddress(from string) string {
	if a, err := netmail.ParseAddress(from); err == nil {
		return a.Address
	}
	return strings.TrimSpace(from)
}

func senderDomain(from string) string {
	addr := envelopeAddress(from)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
