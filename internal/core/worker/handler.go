// Package worker implements the server side of the worker protocol: the
// poll endpoint that claims jobs and the update endpoint that receives
// progress reports. The worker process itself is external and only speaks
// HTTP with a shared secret.
package worker

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/core/job"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/logger"
)

type Handler struct {
	log  *logger.Logger
	jobs *job.Service
}

func NewHandler(jobs *job.Service) *Handler {
	return &Handler{log: logger.New("WorkerAPI"), jobs: jobs}
}

// HandlePoll claims the next eligible job for the polling worker. No work is
// a normal empty result, not an error.
func (h *Handler) HandlePoll(c *fiber.Ctx) error {
	j, err := h.jobs.Claim(c.Context())
	if errors.Is(err, job.ErrNoWork) {
		return c.JSON(fiber.Map{"job": nil})
	}
	if err != nil {
		h.log.LogError("claim failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to poll for jobs"})
	}
	return c.JSON(fiber.Map{"job": j})
}

// HandleUpdate receives a progress report. An unknown job id is a server
// error here, not a 404: the worker retries on its own schedule and treats
// any 5xx as "try the whole call again".
func (h *Handler) HandleUpdate(c *fiber.Ctx) error {
	var rep job.ProgressReport
	if err := c.BodyParser(&rep); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if rep.JobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "job_id is required"})
	}

	if err := h.jobs.ReportProgress(c.Context(), rep); err != nil {
		if errors.Is(err, job.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		h.log.LogError("progress report failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save progress"})
	}
	return c.JSON(fiber.Map{"success": true})
}
