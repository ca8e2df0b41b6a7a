package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stillpoint/models"
)

// fakeStore is an in-memory Store. All methods are guarded by one mutex so
// the concurrency tests exercise the same claim atomicity the SQL
// conditional update provides.
type fakeStore struct {
	mu          sync.Mutex
	subscribers map[uint]*models.Subscriber
	sequences   map[uint]*models.Sequence
	steps       map[uint][]*models.SequenceStep
	enrollments map[uint]*models.SequenceEnrollment
	sends       []*models.SendRecord
	nextID      uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subscribers: map[uint]*models.Subscriber{},
		sequences:   map[uint]*models.Sequence{},
		steps:       map[uint][]*models.SequenceStep{},
		enrollments: map[uint]*models.SequenceEnrollment{},
	}
}

func (f *fakeStore) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addSubscriber(email, firstName, status string) *models.Subscriber {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &models.Subscriber{Email: email, FirstName: firstName, Status: status}
	sub.ID = f.id()
	f.subscribers[sub.ID] = sub
	return sub
}

// addSequence registers a sequence with steps given as (delayDays, delayHours) pairs.
func (f *fakeStore) addSequence(triggerKey, status string, delays ...[2]int) *models.Sequence {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := &models.Sequence{Name: "seq " + triggerKey, TriggerKey: triggerKey, Status: status}
	seq.ID = f.id()
	f.sequences[seq.ID] = seq
	for i, d := range delays {
		step := &models.SequenceStep{
			SequenceID: seq.ID,
			Position:   i + 1,
			Subject:    fmt.Sprintf("Step %d", i+1),
			HTMLBody:   "<p>Hi {{.FirstName}}</p>",
			DelayDays:  d[0],
			DelayHours: d[1],
		}
		step.ID = f.id()
		f.steps[seq.ID] = append(f.steps[seq.ID], step)
	}
	return seq
}

func (f *fakeStore) GetSubscriber(_ context.Context, id uint) (*models.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscribers[id]
	if !ok {
		return nil, &NotFoundError{Resource: "subscriber", ID: id}
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeStore) ActiveSequenceByTrigger(_ context.Context, triggerKey string) (*models.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, seq := range f.sequences {
		if seq.TriggerKey == triggerKey && seq.Status == models.SequenceActive {
			cp := *seq
			return &cp, nil
		}
	}
	return nil, &NotFoundError{Resource: "sequence for trigger " + triggerKey}
}

func (f *fakeStore) ActiveEnrollment(_ context.Context, subscriberID, sequenceID uint) (*models.SequenceEnrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.enrollments {
		if e.SubscriberID == subscriberID && e.SequenceID == sequenceID && e.Status == models.EnrollmentActive {
			cp := *e
			return &cp, nil
		}
	}
	return nil, &NotFoundError{Resource: "enrollment"}
}

func (f *fakeStore) Step(_ context.Context, sequenceID uint, position int) (*models.SequenceStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, step := range f.steps[sequenceID] {
		if step.Position == position {
			cp := *step
			return &cp, nil
		}
	}
	return nil, &NotFoundError{Resource: "sequence step"}
}

func (f *fakeStore) CreateEnrollment(_ context.Context, e *models.SequenceEnrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.enrollments {
		if existing.SubscriberID == e.SubscriberID && existing.SequenceID == e.SequenceID &&
			existing.Status == models.EnrollmentActive {
			return ErrDuplicateEnrollment
		}
	}
	e.ID = f.id()
	cp := *e
	f.enrollments[e.ID] = &cp
	return nil
}

func (f *fakeStore) DueEnrollments(_ context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.SequenceEnrollment
	for _, e := range f.enrollments {
		if len(due) >= limit {
			break
		}
		if e.Status != models.EnrollmentActive || e.NextSendAt == nil || e.NextSendAt.After(now) {
			continue
		}
		sub := f.subscribers[e.SubscriberID]
		seq := f.sequences[e.SequenceID]
		if sub == nil || sub.Status != models.SubscriberActive {
			continue
		}
		if seq == nil || seq.Status != models.SequenceActive {
			continue
		}
		cp := *e
		cp.Subscriber = *sub
		cp.Sequence = *seq
		due = append(due, cp)
	}
	return due, nil
}

func (f *fakeStore) ClaimStep(_ context.Context, enrollmentID uint, fromPosition int, dueBy, inFlightUntil time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollmentID]
	if !ok || e.Status != models.EnrollmentActive || e.CurrentPosition != fromPosition {
		return false, nil
	}
	if e.NextSendAt == nil || e.NextSendAt.After(dueBy) {
		return false, nil
	}
	until := inFlightUntil
	e.NextSendAt = &until
	return true, nil
}

func (f *fakeStore) AdvanceEnrollment(_ context.Context, enrollmentID uint, newPosition int, nextSendAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollmentID]
	if !ok {
		return &NotFoundError{Resource: "enrollment", ID: enrollmentID}
	}
	e.CurrentPosition = newPosition
	at := nextSendAt
	e.NextSendAt = &at
	e.RetryCount = 0
	return nil
}

func (f *fakeStore) CompleteEnrollment(_ context.Context, enrollmentID uint, finalPosition int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollmentID]
	if !ok {
		return &NotFoundError{Resource: "enrollment", ID: enrollmentID}
	}
	e.Status = models.EnrollmentCompleted
	e.CurrentPosition = finalPosition
	e.NextSendAt = nil
	return nil
}

func (f *fakeStore) FailEnrollment(_ context.Context, enrollmentID uint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollmentID]
	if !ok {
		return &NotFoundError{Resource: "enrollment", ID: enrollmentID}
	}
	e.Status = models.EnrollmentFailed
	e.NextSendAt = nil
	e.LastError = reason
	return nil
}

func (f *fakeStore) RescheduleRetry(_ context.Context, enrollmentID uint, position int, retryAt time.Time, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[enrollmentID]
	if !ok || e.Status != models.EnrollmentActive || e.CurrentPosition != position {
		return nil
	}
	at := retryAt
	e.NextSendAt = &at
	e.RetryCount = retryCount
	return nil
}

func (f *fakeStore) RecordSend(_ context.Context, rec *models.SendRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = f.id()
	cp := *rec
	f.sends = append(f.sends, &cp)
	return nil
}

func (f *fakeStore) enrollment(id uint) models.SequenceEnrollment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.enrollments[id]
}

func (f *fakeStore) activeEnrollmentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.enrollments {
		if e.Status == models.EnrollmentActive {
			n++
		}
	}
	return n
}

func (f *fakeStore) sendsWithStatus(status string) []*models.SendRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SendRecord
	for _, rec := range f.sends {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// fakeMailer records outbound emails. failFirst makes the first n sends
// fail with failErr before succeeding.
type fakeMailer struct {
	mu        sync.Mutex
	sent      []OutboundEmail
	calls     int
	failFirst int
	failErr   error
}

func (m *fakeMailer) Send(_ context.Context, email OutboundEmail) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failFirst {
		err := m.failErr
		if err == nil {
			err = &DeliveryError{Err: fmt.Errorf("smtp unavailable")}
		}
		return "", err
	}
	m.sent = append(m.sent, email)
	return fmt.Sprintf("msg-%d", m.calls), nil
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
