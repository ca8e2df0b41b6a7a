package controller

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"stillpoint/automation"
	"stillpoint/utils"
)

// SequenceRunner is the slice of the processor the cron endpoint needs.
type SequenceRunner interface {
	ProcessDueEnrollments(ctx context.Context, now time.Time) (automation.Summary, error)
}

// CronController exposes the sequence processor to the external scheduler.
// The route is guarded by the shared-secret middleware; invoking it twice
// concurrently is safe because the processor claims each enrollment before
// sending.
type CronController struct {
	Runner SequenceRunner
	Logger *log.Logger
}

func NewCronController(runner SequenceRunner, logger *log.Logger) *CronController {
	return &CronController{
		Runner: runner,
		Logger: logger,
	}
}

// ProcessSequences runs one processor pass and returns the batch summary.
// Per-enrollment failures are inside the summary; only a batch-level
// failure (the due-set query itself) produces a non-200.
func (cc *CronController) ProcessSequences(c *fiber.Ctx) error {
	started := time.Now()
	summary, err := cc.Runner.ProcessDueEnrollments(c.Context(), started)
	if err != nil {
		cc.Logger.Printf("processor pass failed: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Processor pass failed", err)
	}

	cc.Logger.Printf("processor pass: processed=%d sent=%d failed=%d completed=%d skipped=%d (%s)",
		summary.Processed, summary.Sent, summary.Failed, summary.Completed, summary.Skipped,
		time.Since(started).Round(time.Millisecond))

	return c.JSON(utils.SuccessResponse(summary))
}
