package worker

import (
	"context"
	"log"
	"time"

	controller "stillpoint/controllers"
)

// SequenceWorker runs the sequence processor on a fixed interval so the
// system keeps sending without an external scheduler. An external cron can
// still hit the HTTP endpoint; the processor's claim step makes the two
// invocation paths safe to overlap.
type SequenceWorker struct {
	Runner   controller.SequenceRunner
	Logger   *log.Logger
	Interval time.Duration
}

func NewSequenceWorker(runner controller.SequenceRunner, logger *log.Logger, interval time.Duration) *SequenceWorker {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &SequenceWorker{
		Runner:   runner,
		Logger:   logger,
		Interval: interval,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(10 * time.Second)

	sw.Logger.Println("Sequence worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Println("Sequence worker shutting down...")
			return
		case <-ticker.C:
			summary, err := sw.Runner.ProcessDueEnrollments(ctx, time.Now())
			if err != nil {
				sw.Logger.Printf("processor pass failed: %v", err)
				continue
			}
			if summary.Processed > 0 {
				sw.Logger.Printf("processed %d enrollments (sent=%d failed=%d completed=%d skipped=%d)",
					summary.Processed, summary.Sent, summary.Failed, summary.Completed, summary.Skipped)
			}
		}
	}
}
