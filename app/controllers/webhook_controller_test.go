package controllers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/OrderFox/internal/pkg/catalog"
	"github.com/ManuelReschke/OrderFox/internal/pkg/fulfillment"
	"github.com/ManuelReschke/OrderFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/OrderFox/internal/pkg/mail"
	"github.com/ManuelReschke/OrderFox/internal/pkg/packeta"
	"github.com/ManuelReschke/OrderFox/internal/pkg/payment"
)

const testWebhookSecret = "whsec_test_secret"

const sessionJSON = `{
	"id": "cs_1",
	"object": "checkout.session",
	"payment_status": "paid",
	"amount_subtotal": 99000,
	"amount_total": 107900,
	"currency": "czk",
	"shipping_cost": {"amount_total": 8900},
	"customer_details": {"email": "jana@example.com", "name": "Jana Nováková", "phone": "+420123456789"},
	"invoice": "in_1",
	"metadata": {"packeta_point_id": "79", "packeta_point_name": "Point A", "referral_source": "instagram"},
	"line_items": {
		"object": "list",
		"data": [{
			"id": "li_1",
			"object": "item",
			"description": "Basic diary",
			"quantity": 1,
			"amount_total": 99000,
			"price": {"id": "price_basic_diary", "object": "price", "product": {"id": "prod_1", "object": "product", "metadata": {}}}
		}]
	}
}`

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return "re_" + msg.To, nil
}

type stack struct {
	app           *fiber.App
	stripeCalls   atomic.Int32
	sessionCalls  atomic.Int32
	createPackets []packetAttrs
	labelCalls    atomic.Int32
	mailer        *recordingMailer
	mu            sync.Mutex
}

type packetAttrs struct {
	Number    string `xml:"number"`
	AddressID int    `xml:"addressId"`
	Value     string `xml:"value"`
	Weight    string `xml:"weight"`
	Currency  string `xml:"currency"`
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{mailer: &recordingMailer{}}

	stripeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stripeCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_1":
			s.sessionCalls.Add(1)
			_, _ = w.Write([]byte(sessionJSON))
		case "/v1/invoices/in_1":
			_, _ = w.Write([]byte(`{"id": "in_1", "object": "invoice", "hosted_invoice_url": "https://invoice.stripe.com/i/in_1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "No such resource"}}`))
		}
	}))
	t.Cleanup(stripeSrv.Close)

	packetaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var root struct {
			XMLName xml.Name
			Attrs   packetAttrs `xml:"packetAttributes"`
		}
		require.NoError(t, xml.Unmarshal(body, &root))

		switch root.XMLName.Local {
		case "createPacket":
			s.mu.Lock()
			s.createPackets = append(s.createPackets, root.Attrs)
			s.mu.Unlock()
			_, _ = w.Write([]byte(`<response><status>ok</status><result><id>1234567890</id><barcode>Z1234567890</barcode></result></response>`))
		case "packetLabelPdf":
			s.labelCalls.Add(1)
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4\n%label\n%%EOF"))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(packetaSrv.Close)

	cat, err := catalog.Load("")
	require.NoError(t, err)

	stripeClient := payment.NewClient("sk_test_123", stripeSrv.URL)
	svc := fulfillment.NewService(fulfillment.Deps{
		Sessions: stripeClient,
		Invoices: stripeClient,
		Shipper:  packeta.NewClient(packeta.Config{APIURL: packetaSrv.URL, APIPassword: "secret", Eshop: "shop"}),
		Catalog:  cat,
		Mail:     mail.NewDispatcher(s.mailer, "shop@example.com", "admin@example.com"),
		ShopName: "OrderFox",
		Locale:   "en",
	})

	wc := NewWebhookController(testWebhookSecret, idempotency.NewMemoryGuard(time.Hour), nil, svc)
	s.app = fiber.New()
	s.app.Post("/webhooks/stripe", wc.HandleStripeWebhook)
	return s
}

func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(signed.Payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

const completedEventJSON = `{
	"id": "evt_1",
	"object": "event",
	"type": "checkout.session.completed",
	"data": {"object": {"id": "cs_1", "object": "checkout.session"}}
}`

func TestStripeWebhook_EndToEnd(t *testing.T) {
	s := newStack(t)

	resp, err := s.app.Test(signedRequest(t, completedEventJSON), 10000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"received": true}, decodeBody(t, resp))

	require.Len(t, s.createPackets, 1)
	pkt := s.createPackets[0]
	assert.Equal(t, "cs_1", pkt.Number)
	assert.Equal(t, 79, pkt.AddressID)
	assert.Equal(t, "990.00", pkt.Value)
	assert.Equal(t, "0.900", pkt.Weight)
	assert.Equal(t, "CZK", pkt.Currency)
	assert.Equal(t, int32(1), s.labelCalls.Load())

	require.Len(t, s.mailer.sent, 2)
	customer, admin := s.mailer.sent[0], s.mailer.sent[1]
	assert.Equal(t, "jana@example.com", customer.To)
	assert.Contains(t, customer.HTML, "https://invoice.stripe.com/i/in_1")
	assert.Equal(t, "admin@example.com", admin.To)
	assert.Contains(t, admin.HTML, "1234567890")
	assert.Contains(t, admin.HTML, "instagram")

	// Second delivery of the same event is acknowledged without side effects.
	stripeCalls := s.stripeCalls.Load()
	resp, err = s.app.Test(signedRequest(t, completedEventJSON), 10000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"received": true}, decodeBody(t, resp))

	assert.Equal(t, stripeCalls, s.stripeCalls.Load())
	assert.Len(t, s.createPackets, 1)
	assert.Equal(t, int32(1), s.labelCalls.Load())
	assert.Len(t, s.mailer.sent, 2)
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *http.Request)
	}{
		{"missing header", func(r *http.Request) { r.Header.Del("Stripe-Signature") }},
		{"wrong signature", func(r *http.Request) { r.Header.Set("Stripe-Signature", "t=1,v1=deadbeef") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t)
			req := signedRequest(t, completedEventJSON)
			tt.mutate(req)

			resp, err := s.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, map[string]interface{}{"error": "invalid_signature"}, decodeBody(t, resp))
			assert.Zero(t, s.stripeCalls.Load())
			assert.Empty(t, s.mailer.sent)
		})
	}
}

func TestStripeWebhook_TamperedBody(t *testing.T) {
	s := newStack(t)
	req := signedRequest(t, completedEventJSON)
	sig := req.Header.Get("Stripe-Signature")

	tampered := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(strings.Replace(completedEventJSON, "cs_1", "cs_2", 1)))
	tampered.Header.Set("Stripe-Signature", sig)

	resp, err := s.app.Test(tampered)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, s.stripeCalls.Load())
}

func TestStripeWebhook_OtherEventsAreAcknowledged(t *testing.T) {
	s := newStack(t)

	resp, err := s.app.Test(signedRequest(t, `{
		"id": "evt_9",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "object": "payment_intent"}}
	}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Zero(t, s.stripeCalls.Load())
	assert.Empty(t, s.mailer.sent)
}

func TestStripeWebhook_StageFailureStill200(t *testing.T) {
	s := newStack(t)

	resp, err := s.app.Test(signedRequest(t, `{
		"id": "evt_10",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_missing", "object": "checkout.session"}}
	}`), 10000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, s.createPackets)
	assert.Empty(t, s.mailer.sent)
}

type brokenGuard struct{}

func (brokenGuard) HasProcessed(ctx context.Context, id string) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenGuard) MarkProcessed(ctx context.Context, id string) error {
	return errors.New("redis down")
}

func (brokenGuard) Claim(ctx context.Context, id string) (bool, error) {
	return false, errors.New("redis down")
}

type countingHandler struct{ calls atomic.Int32 }

func (h *countingHandler) Handle(ctx context.Context, evt *payment.WebhookEvent) *fulfillment.Report {
	h.calls.Add(1)
	return &fulfillment.Report{EventID: evt.ID, Action: fulfillment.ActionIgnored}
}

func TestStripeWebhook_GuardFallback(t *testing.T) {
	tests := []struct {
		name      string
		fallback  idempotency.Guard
		wantCalls int32
	}{
		{"memory fallback deduplicates", idempotency.NewMemoryGuard(time.Hour), 1},
		{"no fallback processes every delivery", nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &countingHandler{}
			wc := NewWebhookController(testWebhookSecret, brokenGuard{}, tt.fallback, h)
			app := fiber.New()
			app.Post("/webhooks/stripe", wc.HandleStripeWebhook)

			for i := 0; i < 2; i++ {
				resp, err := app.Test(signedRequest(t, completedEventJSON))
				require.NoError(t, err)
				assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			}
			assert.Equal(t, tt.wantCalls, h.calls.Load())
		})
	}
}

type panickingHandler struct{ calls atomic.Int32 }

func (h *panickingHandler) Handle(ctx context.Context, evt *payment.WebhookEvent) *fulfillment.Report {
	h.calls.Add(1)
	panic("handler blew up")
}

func TestStripeWebhook_PanicIsAcknowledged(t *testing.T) {
	h := &panickingHandler{}
	wc := NewWebhookController(testWebhookSecret, idempotency.NewMemoryGuard(time.Hour), nil, h)
	app := fiber.New()
	app.Use(recover.New())
	app.Post("/webhooks/stripe", wc.HandleStripeWebhook)

	resp, err := app.Test(signedRequest(t, completedEventJSON))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]interface{}{"received": true}, decodeBody(t, resp))
	assert.Equal(t, int32(1), h.calls.Load())

	// the event stays claimed, a redelivery is not run again
	resp, err = app.Test(signedRequest(t, completedEventJSON))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), h.calls.Load())
}
