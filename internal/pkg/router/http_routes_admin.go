package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"golang.org/x/crypto/bcrypt"
)

// AdminRouter mounts the operator endpoints behind basic auth checked against
// a bcrypt hash. Nothing is mounted when no hash is configured.
type AdminRouter struct {
	h Handlers
}

func (r AdminRouter) InstallRouter(app *fiber.App) {
	if r.h.AdminPasswordHash == "" {
		return
	}

	hash := []byte(r.h.AdminPasswordHash)
	auth := basicauth.New(basicauth.Config{
		Authorizer: func(user, pass string) bool {
			return user == r.h.AdminUser && bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil
		},
	})

	// fiber metrics
	app.Get("/metrics", auth, monitor.New())

	adminGroup := app.Group("/admin", auth, limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    r.h.LimiterStorage,
	}))
	adminGroup.Get("/stats", r.h.Admin.HandleStats)
	adminGroup.Get("/deadletters", r.h.Admin.HandleDeadLetters)
	adminGroup.Post("/deadletters/:id/retry", r.h.Admin.HandleRetryDeadLetter)
	adminGroup.Post("/orders/:sessionID/fulfill", r.h.Admin.HandleFulfillSession)
}

func NewAdminRouter(h Handlers) *AdminRouter {
	return &AdminRouter{h: h}
}
