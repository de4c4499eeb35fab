package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStripeStub(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("sk_test_123", srv.URL)
}

func TestRetrieveSession_ExpandsLineItems(t *testing.T) {
	var gotPath string
	var gotExpand []string
	client := newStripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		for key, values := range r.URL.Query() {
			if strings.HasPrefix(key, "expand") {
				gotExpand = append(gotExpand, values...)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cs_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"amount_subtotal": 99000,
			"amount_total": 99000,
			"currency": "czk",
			"customer_details": {"email": "jana@example.com", "name": "Jana Novakova", "phone": "+420123456789"},
			"metadata": {"packeta_point_id": "79"},
			"line_items": {
				"object": "list",
				"data": [{
					"id": "li_1",
					"object": "item",
					"description": "Basic diary",
					"quantity": 1,
					"amount_total": 99000,
					"price": {"id": "price_basic", "object": "price", "product": {"id": "prod_1", "object": "product", "metadata": {}}}
				}]
			}
		}`))
	})

	cs, err := client.RetrieveSession(context.Background(), "cs_1")
	require.NoError(t, err)

	assert.Equal(t, "/v1/checkout/sessions/cs_1", gotPath)
	assert.ElementsMatch(t, []string{"line_items", "line_items.data.price.product"}, gotExpand)
	assert.Equal(t, "cs_1", cs.ID)
	assert.Equal(t, int64(99000), cs.AmountTotal)
	require.NotNil(t, cs.LineItems)
	require.Len(t, cs.LineItems.Data, 1)
	assert.Equal(t, "price_basic", cs.LineItems.Data[0].Price.ID)
}

func TestRetrieveSession_Errors(t *testing.T) {
	client := newStripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "No such checkout.session"}}`))
	})

	_, err := client.RetrieveSession(context.Background(), "cs_missing")
	assert.Error(t, err)

	_, err = client.RetrieveSession(context.Background(), "  ")
	assert.Error(t, err)
}

func TestHostedInvoiceURL(t *testing.T) {
	client := newStripeStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/v1/invoices/in_1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "No such invoice"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id": "in_1", "object": "invoice", "hosted_invoice_url": "https://invoice.stripe.com/i/in_1"}`))
	})

	url, err := client.HostedInvoiceURL(context.Background(), "in_1")
	require.NoError(t, err)
	assert.Equal(t, "https://invoice.stripe.com/i/in_1", url)

	url, err = client.HostedInvoiceURL(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, url)

	_, err = client.HostedInvoiceURL(context.Background(), "in_missing")
	assert.ErrorIs(t, err, ErrInvoiceRetrieval)
}
