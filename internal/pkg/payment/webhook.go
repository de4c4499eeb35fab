package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrSignatureInvalid is returned for every payload that cannot be proven to
// come from Stripe. Callers answer 400 and stop.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// EventType is the subset of Stripe event types the service reacts to.
type EventType string

const (
	EventSessionCompleted      EventType = "session_completed"
	EventAsyncPaymentSucceeded EventType = "async_payment_succeeded"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventOther                 EventType = "other"
)

// WebhookEvent is a verified, typed Stripe event.
type WebhookEvent struct {
	ID         string
	Type       EventType
	StripeType string
	SessionID  string
	Raw        []byte
}

// VerifyWebhook checks the Stripe-Signature header against the exact raw body
// and returns the typed event. The body must not be re-serialized before this
// call.
func VerifyWebhook(payload []byte, signatureHeader, secret string) (*WebhookEvent, error) {
	sig := strings.TrimSpace(signatureHeader)
	sec := strings.TrimSpace(secret)
	if sig == "" || sec == "" {
		return nil, fmt.Errorf("%w: missing signature header or secret", ErrSignatureInvalid)
	}

	evt, err := webhook.ConstructEventWithOptions(payload, sig, sec, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	out := &WebhookEvent{
		ID:         evt.ID,
		Type:       classify(string(evt.Type)),
		StripeType: string(evt.Type),
		Raw:        payload,
	}

	if evt.Data != nil && len(evt.Data.Raw) > 0 {
		var obj struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &obj); err == nil && obj.Object == "checkout.session" {
			out.SessionID = obj.ID
		}
	}
	return out, nil
}

func classify(stripeType string) EventType {
	switch stripeType {
	case "checkout.session.completed":
		return EventSessionCompleted
	case "checkout.session.async_payment_succeeded":
		return EventAsyncPaymentSucceeded
	case "payment_intent.succeeded":
		return EventPaymentSucceeded
	default:
		return EventOther
	}
}
