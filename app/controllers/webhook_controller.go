package controllers

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/OrderFox/internal/pkg/fulfillment"
	"github.com/ManuelReschke/OrderFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/OrderFox/internal/pkg/payment"
)

// ============================================================================
// WEBHOOK CONTROLLER - Stripe event intake
// ============================================================================

// EventHandler runs the work for a verified event.
type EventHandler interface {
	Handle(ctx context.Context, evt *payment.WebhookEvent) *fulfillment.Report
}

// WebhookController verifies, deduplicates and dispatches Stripe events.
type WebhookController struct {
	secret   string
	guard    idempotency.Guard
	fallback idempotency.Guard
	handler  EventHandler
}

// NewWebhookController creates the controller. fallback takes over when guard
// is unreachable; it may be nil.
func NewWebhookController(secret string, guard, fallback idempotency.Guard, handler EventHandler) *WebhookController {
	return &WebhookController{
		secret:   secret,
		guard:    guard,
		fallback: fallback,
		handler:  handler,
	}
}

// HandleStripeWebhook answers 400 for anything unsigned and 200 for
// everything else, after the chain has run. Stage failures never change the
// status code.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	// Fiber reuses the request buffer after the handler returns.
	payload := append([]byte(nil), c.Body()...)

	evt, err := payment.VerifyWebhook(payload, c.Get("Stripe-Signature"), wc.secret)
	if err != nil {
		log.Warnf("[Webhook] Rejected delivery from %s: %v", c.IP(), err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid_signature",
		})
	}

	ctx := c.UserContext()
	if !wc.claim(ctx, evt.ID) {
		log.Infof("[Webhook] Event %s (%s) already processed, skipping", evt.ID, evt.StripeType)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}

	wc.dispatch(ctx, evt)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
}

// dispatch runs the handler. A panic is logged and swallowed so the event is
// still acknowledged and Stripe does not redeliver it.
func (wc *WebhookController) dispatch(ctx context.Context, evt *payment.WebhookEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Webhook] Event %s (%s) panicked: %v\n%s", evt.ID, evt.StripeType, r, debug.Stack())
		}
	}()

	report := wc.handler.Handle(ctx, evt)
	if report != nil && report.Err != nil {
		log.Errorf("[Webhook] Event %s could not be fulfilled: %v", evt.ID, report.Err)
	}
}

// claim reports whether this delivery should be processed. A broken guard
// never blocks fulfillment.
func (wc *WebhookController) claim(ctx context.Context, eventID string) bool {
	claimed, err := wc.guard.Claim(ctx, eventID)
	if err == nil {
		return claimed
	}
	if errors.Is(err, idempotency.ErrInvalidEventID) {
		log.Warnf("[Idempotency] Event without id, processing without guard")
		return true
	}

	log.Errorf("[Idempotency] Guard unavailable, falling back: %v", err)
	if wc.fallback == nil {
		return true
	}
	claimed, err = wc.fallback.Claim(ctx, eventID)
	if err != nil {
		log.Errorf("[Idempotency] Fallback guard failed: %v", err)
		return true
	}
	return claimed
}
