package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/OrderFox/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Handlers are the controllers the routers mount.
type Handlers struct {
	Webhook *controllers.WebhookController
	Health  *controllers.HealthController
	Admin   *controllers.AdminController

	AdminUser string

	// AdminPasswordHash is the bcrypt hash operators authenticate against.
	AdminPasswordHash string

	// LimiterStorage shares admin rate limits between instances; nil keeps them in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, h Handlers) {
	setup(app, NewApiRouter(h), NewAdminRouter(h))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
