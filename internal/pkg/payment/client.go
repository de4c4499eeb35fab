package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/invoice"
)

// ErrInvoiceRetrieval marks a failed invoice lookup. Callers degrade to
// "no invoice".
var ErrInvoiceRetrieval = errors.New("invoice retrieval failed")

// Client reads checkout sessions and invoices from Stripe.
type Client struct {
	sessions session.Client
	invoices invoice.Client
}

// NewClient creates a Stripe client. apiURL overrides the API base URL and is
// meant for stubs; leave it empty in production.
func NewClient(secretKey, apiURL string) *Client {
	cfg := &stripe.BackendConfig{}
	if u := strings.TrimRight(strings.TrimSpace(apiURL), "/"); u != "" {
		cfg.URL = stripe.String(u)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)

	return &Client{
		sessions: session.Client{B: backend, Key: secretKey},
		invoices: invoice.Client{B: backend, Key: secretKey},
	}
}

// RetrieveSession fetches a checkout session with its line items and their
// products expanded in a single request.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")
	params.AddExpand("line_items.data.price.product")

	cs, err := c.sessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", id, err)
	}
	return cs, nil
}

// HostedInvoiceURL returns the customer-facing invoice page. An empty invoice
// id is not an error and yields an empty URL.
func (c *Client) HostedInvoiceURL(ctx context.Context, invoiceID string) (string, error) {
	id := strings.TrimSpace(invoiceID)
	if id == "" {
		return "", nil
	}

	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := c.invoices.Get(id, params)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvoiceRetrieval, id, err)
	}
	return inv.HostedInvoiceURL, nil
}
