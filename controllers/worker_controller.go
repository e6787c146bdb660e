package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kaptiv/sequencer/worker"
)

type WorkerController struct {
	Worker *worker.Worker
}

func NewWorkerController(w *worker.Worker) *WorkerController {
	return &WorkerController{Worker: w}
}

// RunScheduledJobs handles GET /api/run_scheduled_jobs: the external
// periodic trigger for one worker tick. Always answers 200 — failures are
// enumerated in the summary rather than surfaced as a batch error (§7),
// so the trigger sees success and keeps scheduling.
func (wc *WorkerController) RunScheduledJobs(c *fiber.Ctx) error {
	summary := wc.Worker.Tick(c.Context())
	return c.JSON(fiber.Map{"summary": summary})
}
