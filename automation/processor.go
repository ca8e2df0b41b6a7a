package automation

import (
	"context"
	"errors"
	"time"

	"github.com/badoux/checkmail"
	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"stillpoint/models"
)

// ProcessorOptions tunes the sequence processor. Zero values fall back to
// the defaults below.
type ProcessorOptions struct {
	MaxRetries  int           // consecutive delivery failures before the enrollment fails
	RetryDelay  time.Duration // wait before retrying a transient failure
	ClaimWindow time.Duration // how far next_send_at is pushed while a send is in flight
	BatchSize   int           // max enrollments per pass

	// Defaults for sequences without their own sender identity.
	FromName  string
	FromEmail string
	SiteURL   string // base for unsubscribe links in templates
}

const (
	defaultMaxRetries  = 3
	defaultRetryDelay  = 30 * time.Minute
	defaultClaimWindow = 10 * time.Minute
	defaultBatchSize   = 200
)

// Processor walks the set of due enrollments on each invocation, sends the
// step at current_position+1 and advances state. It is safe to invoke
// concurrently (overlapping cron runs, manual retriggers): every send is
// preceded by an atomic claim, so a row is only ever handled by the
// invocation that won the claim.
type Processor struct {
	store  Store
	mailer Mailer
	logger *logrus.Logger
	opts   ProcessorOptions
	now    func() time.Time
}

func NewProcessor(store Store, mailer Mailer, logger *logrus.Logger, opts ProcessorOptions) *Processor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.ClaimWindow <= 0 {
		opts.ClaimWindow = defaultClaimWindow
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Processor{
		store:  store,
		mailer: mailer,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// per-enrollment outcomes, folded into the batch summary
type stepOutcome int

const (
	outcomeSkipped stepOutcome = iota
	outcomeSent
	outcomeSentAndCompleted
	outcomeCompleted
	outcomeFailed
)

// ProcessDueEnrollments runs one batch pass as of now. Enrollments are
// processed independently: a failure on one never aborts the rest, and the
// returned summary reports the per-item breakdown.
func (p *Processor) ProcessDueEnrollments(ctx context.Context, now time.Time) (Summary, error) {
	var summary Summary

	enrollments, err := p.store.DueEnrollments(ctx, now, p.opts.BatchSize)
	if err != nil {
		return summary, err
	}

	for i := range enrollments {
		enrollment := &enrollments[i]
		outcome, err := p.processEnrollment(ctx, enrollment, now)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"enrollment_id": enrollment.ID,
				"subscriber_id": enrollment.SubscriberID,
				"sequence_id":   enrollment.SequenceID,
			}).Error("failed to process enrollment")
			sentry.CaptureException(err)
		}

		summary.Processed++
		switch outcome {
		case outcomeSent:
			summary.Sent++
		case outcomeSentAndCompleted:
			summary.Sent++
			summary.Completed++
		case outcomeCompleted:
			summary.Completed++
		case outcomeFailed:
			summary.Failed++
		case outcomeSkipped:
			summary.Skipped++
		}
	}

	p.logger.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"sent":      summary.Sent,
		"failed":    summary.Failed,
		"completed": summary.Completed,
		"skipped":   summary.Skipped,
	}).Info("sequence processor pass finished")
	return summary, nil
}

func (p *Processor) processEnrollment(ctx context.Context, enrollment *models.SequenceEnrollment, now time.Time) (stepOutcome, error) {
	step, err := p.store.Step(ctx, enrollment.SequenceID, enrollment.CurrentPosition+1)
	if err != nil {
		if IsNotFound(err) {
			// Normal exit: every step has been sent.
			if err := p.store.CompleteEnrollment(ctx, enrollment.ID, enrollment.CurrentPosition); err != nil {
				return outcomeSkipped, err
			}
			return outcomeCompleted, nil
		}
		return outcomeSkipped, err
	}

	claimed, err := p.store.ClaimStep(ctx, enrollment.ID, enrollment.CurrentPosition, now, now.Add(p.opts.ClaimWindow))
	if err != nil {
		return outcomeSkipped, err
	}
	if !claimed {
		// An overlapping invocation owns this row.
		return outcomeSkipped, nil
	}

	subscriber := &enrollment.Subscriber
	if err := checkmail.ValidateFormat(subscriber.Email); err != nil {
		// Data hygiene problem: retrying cannot succeed.
		return p.handleSendFailure(ctx, enrollment, step, &DeliveryError{Err: err, Permanent: true}, now)
	}

	email, err := RenderStep(step, &enrollment.Sequence, subscriber, p.opts.SiteURL)
	if err != nil {
		// Broken template content is a sequence configuration problem, not
		// something a retry fixes.
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return p.handleSendFailure(ctx, enrollment, step, &DeliveryError{Err: err, Permanent: true}, now)
		}
		return outcomeSkipped, err
	}
	if email.FromEmail == "" {
		email.FromName = p.opts.FromName
		email.FromEmail = p.opts.FromEmail
	}

	sentAt := p.now()
	messageID, err := p.mailer.Send(ctx, email)
	if err != nil {
		return p.handleSendFailure(ctx, enrollment, step, err, now)
	}

	record := &models.SendRecord{
		EnrollmentID:      enrollment.ID,
		StepID:            step.ID,
		Status:            models.SendSent,
		ProviderMessageID: messageID,
		SentAt:            &sentAt,
	}
	if err := p.store.RecordSend(ctx, record); err != nil {
		return outcomeSkipped, err
	}

	newPosition := enrollment.CurrentPosition + 1
	nextStep, err := p.store.Step(ctx, enrollment.SequenceID, newPosition+1)
	if err != nil {
		if IsNotFound(err) {
			if err := p.store.CompleteEnrollment(ctx, enrollment.ID, newPosition); err != nil {
				return outcomeSent, err
			}
			return outcomeSentAndCompleted, nil
		}
		return outcomeSent, err
	}

	// The next delay counts from this send's actual timestamp, not from
	// enrollment time, so a late-running batch does not compound drift
	// across the remaining steps.
	if err := p.store.AdvanceEnrollment(ctx, enrollment.ID, newPosition, sentAt.Add(nextStep.Delay())); err != nil {
		return outcomeSent, err
	}
	return outcomeSent, nil
}

func (p *Processor) handleSendFailure(ctx context.Context, enrollment *models.SequenceEnrollment, step *models.SequenceStep, sendErr error, now time.Time) (stepOutcome, error) {
	record := &models.SendRecord{
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Status:       models.SendFailed,
		ErrorMessage: sendErr.Error(),
	}
	if err := p.store.RecordSend(ctx, record); err != nil {
		p.logger.WithError(err).Warn("failed to record failed send")
	}

	retries := enrollment.RetryCount + 1
	if IsPermanentDelivery(sendErr) || retries >= p.opts.MaxRetries {
		if err := p.store.FailEnrollment(ctx, enrollment.ID, sendErr.Error()); err != nil {
			return outcomeFailed, err
		}
		p.logger.WithFields(logrus.Fields{
			"enrollment_id": enrollment.ID,
			"retries":       retries,
		}).Warn("enrollment failed permanently")
		return outcomeFailed, nil
	}

	// Keep the position; the next pass retries the same step.
	if err := p.store.RescheduleRetry(ctx, enrollment.ID, enrollment.CurrentPosition, now.Add(p.opts.RetryDelay), retries); err != nil {
		return outcomeFailed, err
	}
	return outcomeFailed, nil
}
