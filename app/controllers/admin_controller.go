package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/OrderFox/internal/pkg/fulfillment"
	"github.com/ManuelReschke/OrderFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/OrderFox/internal/pkg/metrics/counter"
)

// ============================================================================
// ADMIN CONTROLLER - dead letters, stats and manual fulfillment
// ============================================================================

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// Fulfiller re-runs the chain for a session on operator request.
type Fulfiller interface {
	Fulfill(ctx context.Context, eventID, sessionID string) *fulfillment.Report
}

// AdminController exposes operator endpoints. queue is nil when the job
// queue is disabled.
type AdminController struct {
	queue     *jobqueue.Queue
	stages    *counter.Stages
	fulfiller Fulfiller
}

func NewAdminController(queue *jobqueue.Queue, stages *counter.Stages, fulfiller Fulfiller) *AdminController {
	return &AdminController{
		queue:     queue,
		stages:    stages,
		fulfiller: fulfiller,
	}
}

// handleError is a helper method for consistent error responses
func (ac *AdminController) handleError(c *fiber.Ctx, status int, message string, err error) error {
	if err != nil {
		log.Errorf("[Admin] %s: %v", message, err)
		message = message + ": " + err.Error()
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (ac *AdminController) queueDisabled(c *fiber.Ctx) error {
	return ac.handleError(c, fiber.StatusServiceUnavailable, "job queue is disabled", nil)
}

// HandleDeadLetters lists the newest dead letters. ?limit= caps the result.
func (ac *AdminController) HandleDeadLetters(c *fiber.Ctx) error {
	if ac.queue == nil {
		return ac.queueDisabled(c)
	}

	limit := c.QueryInt("limit", defaultDeadLetterLimit)
	if limit <= 0 {
		limit = defaultDeadLetterLimit
	}
	if limit > maxDeadLetterLimit {
		limit = maxDeadLetterLimit
	}

	jobs, err := ac.queue.ListDeadLetters(c.UserContext(), int64(limit))
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "failed to list dead letters", err)
	}
	if jobs == nil {
		jobs = []*jobqueue.Job{}
	}
	return c.JSON(fiber.Map{"count": len(jobs), "jobs": jobs})
}

// HandleRetryDeadLetter moves a dead letter back to the pending queue.
func (ac *AdminController) HandleRetryDeadLetter(c *fiber.Ctx) error {
	if ac.queue == nil {
		return ac.queueDisabled(c)
	}

	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return ac.handleError(c, fiber.StatusBadRequest, "job id is required", nil)
	}

	job, err := ac.queue.RetryDeadLetter(c.UserContext(), id)
	switch {
	case errors.Is(err, redis.Nil):
		return ac.handleError(c, fiber.StatusNotFound, "dead letter not found", nil)
	case errors.Is(err, jobqueue.ErrNotRetryable):
		return ac.handleError(c, fiber.StatusConflict, "job type cannot be retried", nil)
	case err != nil:
		return ac.handleError(c, fiber.StatusInternalServerError, "failed to retry job", err)
	}

	log.Infof("[Admin] Dead letter %s (%s) re-enqueued", job.ID, job.Type)
	return c.JSON(job)
}

// HandleStats returns queue sizes, job counters and pipeline stage counters.
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	out := fiber.Map{}

	if ac.queue != nil {
		sizes, err := ac.queue.Sizes(ctx)
		if err != nil {
			return ac.handleError(c, fiber.StatusInternalServerError, "failed to read queue sizes", err)
		}
		jobs, err := ac.queue.GetJobStats(ctx)
		if err != nil {
			return ac.handleError(c, fiber.StatusInternalServerError, "failed to read job stats", err)
		}
		out["queue"] = sizes
		out["jobs"] = jobs
	}

	stages, err := ac.stages.Snapshot(ctx)
	if err != nil {
		return ac.handleError(c, fiber.StatusInternalServerError, "failed to read stage counters", err)
	}
	if stages == nil {
		stages = []counter.StageCount{}
	}
	out["stages"] = stages

	return c.JSON(out)
}

// HandleFulfillSession runs the chain for a session id by hand, bypassing
// the webhook idempotency guard.
func (ac *AdminController) HandleFulfillSession(c *fiber.Ctx) error {
	sessionID := strings.TrimSpace(c.Params("sessionID"))
	if sessionID == "" {
		return ac.handleError(c, fiber.StatusBadRequest, "session id is required", nil)
	}

	r := ac.fulfiller.Fulfill(c.UserContext(), "admin", sessionID)
	status := fiber.StatusOK
	if r.Err != nil {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(reportView(r))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func reportView(r *fulfillment.Report) fiber.Map {
	view := fiber.Map{
		"session_id": r.SessionID,
		"action":     r.Action,
		"summary":    r.Summary(),
	}
	if r.Err != nil {
		view["error"] = r.Err.Error()
		return view
	}
	view["shipment"] = fiber.Map{
		"state":     r.Shipment.State,
		"packet_id": r.Shipment.PacketID,
		"barcode":   r.Shipment.Barcode,
		"error":     errString(r.ShipmentErr),
	}
	view["weight_kg"] = r.Weight.Kg
	view["unmatched"] = r.Weight.Unmatched
	view["label_key"] = r.LabelKey
	view["label_error"] = errString(r.LabelErr)
	view["invoice_url"] = r.InvoiceURL
	view["invoice_error"] = errString(r.InvoiceErr)
	view["email_sent"] = r.Email.Success
	view["retry_jobs"] = r.RetryJobs
	return view
}
