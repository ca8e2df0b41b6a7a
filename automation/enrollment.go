package automation

import (
	"context"
	"errors"
	"log"
	"time"

	"stillpoint/models"
)

// EnrollmentManager enrolls subscribers into the sequence configured for a
// trigger event. Enrollment is idempotent per active (subscriber, sequence)
// pair: re-firing a trigger never creates a duplicate drip.
type EnrollmentManager struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

func NewEnrollmentManager(store Store, logger *log.Logger) *EnrollmentManager {
	return &EnrollmentManager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Enroll finds the active sequence for triggerKey and creates an active
// enrollment at position 0 with next_send_at set from the first step's
// delay. No email is sent here; the first step is dispatched by the
// processor like every other step.
//
// Triggers without a configured sequence, repeat triggers for an already
// enrolled subscriber, and sequences without steps all return a no-op
// result rather than an error. A missing subscriber is the only hard
// failure.
func (m *EnrollmentManager) Enroll(ctx context.Context, subscriberID uint, triggerKey, source string, metadata map[string]string) (*EnrollmentResult, error) {
	subscriber, err := m.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if subscriber.Status != models.SubscriberActive {
		return &EnrollmentResult{Outcome: OutcomeSubscriberInactive}, nil
	}

	sequence, err := m.store.ActiveSequenceByTrigger(ctx, triggerKey)
	if err != nil {
		if IsNotFound(err) {
			// Valid state: the trigger exists but no sequence is wired to it.
			return &EnrollmentResult{Outcome: OutcomeNoSequence}, nil
		}
		return nil, err
	}

	existing, err := m.store.ActiveEnrollment(ctx, subscriber.ID, sequence.ID)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return &EnrollmentResult{Outcome: OutcomeAlreadyEnrolled, Enrollment: existing}, nil
	}

	firstStep, err := m.store.Step(ctx, sequence.ID, 1)
	if err != nil {
		if IsNotFound(err) {
			// A sequence with no content must not sit "in progress" forever.
			m.logger.Printf("sequence %d (%s) has no steps, skipping enrollment", sequence.ID, sequence.TriggerKey)
			return &EnrollmentResult{Outcome: OutcomeEmptySequence}, nil
		}
		return nil, err
	}

	nextSendAt := m.now().Add(firstStep.Delay())
	enrollment := &models.SequenceEnrollment{
		SubscriberID:    subscriber.ID,
		SequenceID:      sequence.ID,
		Status:          models.EnrollmentActive,
		CurrentPosition: 0,
		NextSendAt:      &nextSendAt,
		Source:          source,
		Metadata:        metadata,
	}

	if err := m.store.CreateEnrollment(ctx, enrollment); err != nil {
		if errors.Is(err, ErrDuplicateEnrollment) {
			// Lost a race with a concurrent trigger; the uniqueness
			// constraint did its job.
			return &EnrollmentResult{Outcome: OutcomeAlreadyEnrolled}, nil
		}
		return nil, err
	}

	m.logger.Printf("enrolled subscriber %d in sequence %d (%s), first send at %s",
		subscriber.ID, sequence.ID, sequence.TriggerKey, nextSendAt.Format(time.RFC3339))
	return &EnrollmentResult{Outcome: OutcomeEnrolled, Enrollment: enrollment}, nil
}
