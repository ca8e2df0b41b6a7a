// Package automation implements the drip email subsystem: enrolling
// subscribers into sequences when site events fire, and the batch processor
// that sends due steps, advances enrollment state and bounds retries.
package automation

import (
	"context"
	"time"

	"stillpoint/models"
)

// Store is the persistence surface the enrollment manager and processor
// need. The production implementation lives in the store package on GORM;
// tests use in-memory fakes. Methods looking up a single row return
// *NotFoundError when it does not exist.
type Store interface {
	GetSubscriber(ctx context.Context, id uint) (*models.Subscriber, error)
	ActiveSequenceByTrigger(ctx context.Context, triggerKey string) (*models.Sequence, error)
	ActiveEnrollment(ctx context.Context, subscriberID, sequenceID uint) (*models.SequenceEnrollment, error)
	Step(ctx context.Context, sequenceID uint, position int) (*models.SequenceStep, error)

	// CreateEnrollment inserts a new enrollment row and returns
	// ErrDuplicateEnrollment if an active one already exists for the pair.
	CreateEnrollment(ctx context.Context, e *models.SequenceEnrollment) error

	// DueEnrollments returns active enrollments with next_send_at <= now,
	// restricted to active subscribers and active sequences, with the
	// Subscriber and Sequence relations populated.
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error)

	// ClaimStep atomically reserves an enrollment for sending by pushing
	// next_send_at to inFlightUntil, guarded by the same predicate that
	// selected the row (active status, unchanged position, still due).
	// It returns false when another invocation claimed the row first.
	ClaimStep(ctx context.Context, enrollmentID uint, fromPosition int, dueBy, inFlightUntil time.Time) (bool, error)

	// AdvanceEnrollment records a successful send: position moves to
	// newPosition, retry_count resets, next_send_at is scheduled.
	AdvanceEnrollment(ctx context.Context, enrollmentID uint, newPosition int, nextSendAt time.Time) error

	// CompleteEnrollment transitions to the completed terminal state and
	// clears next_send_at so no later pass selects the row again.
	CompleteEnrollment(ctx context.Context, enrollmentID uint, finalPosition int) error

	// FailEnrollment transitions to the failed terminal state.
	FailEnrollment(ctx context.Context, enrollmentID uint, reason string) error

	// RescheduleRetry keeps the enrollment at its current position and
	// schedules another attempt.
	RescheduleRetry(ctx context.Context, enrollmentID uint, position int, retryAt time.Time, retryCount int) error

	RecordSend(ctx context.Context, rec *models.SendRecord) error
}

// OutboundEmail is one rendered message handed to the delivery provider.
type OutboundEmail struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// Mailer delivers a single email and returns the provider message id.
// Implementations classify unrecoverable problems as *DeliveryError with
// Permanent set.
type Mailer interface {
	Send(ctx context.Context, email OutboundEmail) (string, error)
}

// Enrollment outcomes returned to trigger-side callers. Everything except
// OutcomeEnrolled is a no-op from the caller's point of view; none of them
// are errors.
const (
	OutcomeEnrolled           = "enrolled"
	OutcomeAlreadyEnrolled    = "already_enrolled"
	OutcomeNoSequence         = "no_sequence"
	OutcomeEmptySequence      = "empty_sequence"
	OutcomeSubscriberInactive = "subscriber_inactive"
)

// EnrollmentResult tells the trigger-side caller what happened.
type EnrollmentResult struct {
	Outcome    string                     `json:"outcome"`
	Enrollment *models.SequenceEnrollment `json:"enrollment,omitempty"`
}

// Summary is the per-batch report returned by the processor.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
}
