package router

import (
	"github.com/gofiber/fiber/v2"
)

// ApiRouter mounts the machine-facing endpoints. The webhook route must not
// sit behind any middleware that reads or rewrites the body.
type ApiRouter struct {
	h Handlers
}

func (r ApiRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", r.h.Health.HandleHealth)

	webhooks := app.Group("/webhooks")
	webhooks.Post("/stripe", r.h.Webhook.HandleStripeWebhook)
}

func NewApiRouter(h Handlers) *ApiRouter {
	return &ApiRouter{h: h}
}
