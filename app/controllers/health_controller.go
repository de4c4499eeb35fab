package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// HealthController reports liveness plus the reachability of Redis, which
// backs the idempotency guard and the job queue.
type HealthController struct {
	cacheReachable func() bool
	queueRunning   func() bool
}

func NewHealthController(cacheReachable, queueRunning func() bool) *HealthController {
	return &HealthController{cacheReachable: cacheReachable, queueRunning: queueRunning}
}

// HandleHealth always answers 200 while the process serves requests; a
// degraded dependency is reported, not failed on.
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	status := "ok"
	cacheOK := hc.cacheReachable == nil || hc.cacheReachable()
	if !cacheOK {
		status = "degraded"
	}
	queue := "disabled"
	if hc.queueRunning != nil {
		queue = "stopped"
		if hc.queueRunning() {
			queue = "running"
		}
	}

	return c.JSON(fiber.Map{
		"status": status,
		"cache":  cacheOK,
		"queue":  queue,
	})
}
