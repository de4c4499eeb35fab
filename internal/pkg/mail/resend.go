package mail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

const defaultResendAPIURL = "https://api.resend.com"

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
}

// NewResendMailer creates the SDK client. apiURL overrides the API base URL;
// an invalid one is rejected.
func NewResendMailer(apiURL, apiKey string) (*ResendMailer, error) {
	client := resend.NewCustomClient(&http.Client{Timeout: 15 * time.Second}, apiKey)

	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultResendAPIURL
	}
	// the SDK resolves "emails" relative to the base, so it needs a trailing slash
	base, err := url.Parse(strings.TrimRight(apiURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid Resend API URL %q", apiURL)
	}
	client.BaseURL = base

	return &ResendMailer{client: client}, nil
}

func (m *ResendMailer) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}

	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmailSend, err)
	}
	if sent == nil {
		return "", nil
	}
	return sent.Id, nil
}
