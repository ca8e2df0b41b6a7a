package automation

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stillpoint/models"
)

func newTestProcessor(store Store, mailer Mailer, opts ProcessorOptions, sendTime time.Time) *Processor {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := NewProcessor(store, mailer, logger, opts)
	p.now = func() time.Time { return sendTime }
	return p
}

// addDueEnrollment inserts an active enrollment due at the given time.
func addDueEnrollment(f *fakeStore, subscriberID, sequenceID uint, position int, dueAt time.Time) uint {
	e := &models.SequenceEnrollment{
		SubscriberID:    subscriberID,
		SequenceID:      sequenceID,
		Status:          models.EnrollmentActive,
		CurrentPosition: position,
		NextSendAt:      &dueAt,
	}
	if err := f.CreateEnrollment(context.Background(), e); err != nil {
		panic(err)
	}
	return e.ID
}

func TestProcessorSendsDueStepAndSchedulesNextFromSendTime(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerNewsletterSignup, models.SequenceActive, [2]int{0, 0}, [2]int{2, 0})
	id := addDueEnrollment(f, sub.ID, seq.ID, 0, testNow)

	mailer := &fakeMailer{}
	sendTime := testNow.Add(90 * time.Second) // the batch runs a little late
	p := newTestProcessor(f, mailer, ProcessorOptions{}, sendTime)

	summary, err := p.ProcessDueEnrollments(context.Background(), testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Sent: 1}, summary)
	assert.Equal(t, 1, mailer.sentCount())

	e := f.enrollment(id)
	assert.Equal(t, models.EnrollmentActive, e.Status)
	assert.Equal(t, 1, e.CurrentPosition)
	require.NotNil(t, e.NextSendAt)
	// Step 2 waits 2 days counted from the actual send, not from the
	// originally scheduled time.
	assert.Equal(t, sendTime.Add(48*time.Hour), *e.NextSendAt)

	sent := f.sendsWithStatus(models.SendSent)
	require.Len(t, sent, 1)
	assert.Equal(t, "msg-1", sent[0].ProviderMessageID)
	require.NotNil(t, sent[0].SentAt)
	assert.Equal(t, sendTime, *sent[0].SentAt)
}

func TestProcessorCompletesAfterFinalStep(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0})
	id := addDueEnrollment(f, sub.ID, seq.ID, 0, testNow)

	mailer := &fakeMailer{}
	p := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)

	summary, err := p.ProcessDueEnrollments(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Sent: 1, Completed: 1}, summary)

	e := f.enrollment(id)
	assert.Equal(t, models.EnrollmentCompleted, e.Status)
	assert.Equal(t, 1, e.CurrentPosition)
	assert.Nil(t, e.NextSendAt)

	// A completed enrollment is terminal: later passes never pick it up.
	later, err := p.ProcessDueEnrollments(context.Background(), testNow.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, later)
	assert.Equal(t, 1, mailer.sentCount())
}

func TestProcessorCompletesWithoutSendWhenNoStepRemains(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0})
	// Position already past the last step, e.g. the final step was deleted
	// after the previous send scheduled this row.
	id := addDueEnrollment(f, sub.ID, seq.ID, 1, testNow)

	mailer := &fakeMailer{}
	p := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)

	summary, err := p.ProcessDueEnrollments(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Completed: 1}, summary)
	assert.Equal(t, 0, mailer.sentCount())

	e := f.enrollment(id)
	assert.Equal(t, models.EnrollmentCompleted, e.Status)
	assert.Nil(t, e.NextSendAt)
}

func TestProcessorIgnoresEnrollmentsNotYetDue(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0})
	addDueEnrollment(f, sub.ID, seq.ID, 0, testNow.Add(24*time.Hour))

	mailer := &fakeMailer{}
	p := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)

	summary, err := p.ProcessDueEnrollments(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Equal(t, 0, mailer.sentCount())
}

func TestProcessorFailsEnrollmentAfterThreeTransientFailures(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0})
	id := addDueEnrollment(f, sub.ID, seq.ID, 0, testNow)

	mailer := &fakeMailer{failFirst: 10}
	retryDelay := 30 * time.Minute
	p := newTestProcessor(f, mailer, ProcessorOptions{MaxRetries: 3, RetryDelay: retryDelay}, testNow)

	// Attempt 1: transient failure, rescheduled.
	now := testNow
	summary, err := p.ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Failed: 1}, summary)
	e := f.enrollment(id)
	assert.Equal(t, models.EnrollmentActive, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	require.NotNil(t, e.NextSendAt)
	assert.Equal(t, now.Add(retryDelay), *e.NextSendAt)

	// Attempt 2: still failing, still retryable.
	now = now.Add(retryDelay + time.Minute)
	_, err = p.ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)
	e = f.enrollment(id)
	assert.Equal(t, models.EnrollmentActive, e.Status)
	assert.Equal(t, 2, e.RetryCount)

	// Attempt 3 hits the bound: the enrollment fails for good.
	now = now.Add(retryDelay + time.Minute)
	_, err = p.ProcessDueEnrollments(context.Background(), now)
	require.NoError(t, err)
	e = f.enrollment(id)
	assert.Equal(t, models.EnrollmentFailed, e.Status)
	assert.Nil(t, e.NextSendAt)
	assert.NotEmpty(t, e.LastError)
	assert.Len(t, f.sendsWithStatus(models.SendFailed), 3)

	// Terminal: no fourth attempt ever happens.
	later, err := p.ProcessDueEnrollments(context.Background(), now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, later)
	assert.Len(t, f.sendsWithStatus(models.SendFailed), 3)
}

func TestProcessorFailsImmediatelyOnInvalidEmail(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("not-an-email", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0})
	id := addDueEnrollment(f, sub.ID, seq.ID, 0, testNow)

	mailer := &fakeMailer{}
	p := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)

	summary, err := p.ProcessDueEnrollments(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Failed: 1}, summary)
	assert.Equal(t, 0, mailer.sentCount())

	e := f.enrollment(id)
	assert.Equal(t, models.EnrollmentFailed, e.Status)
	assert.Len(t, f.sendsWithStatus(models.SendFailed), 1)
}

func TestProcessorFailsImmediatelyOnBrokenTemplate(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0})
	f.steps[seq.ID][0].HTMLBody = "<p>Hi {{.Oops</p>"
	id := addDueEnrollment(f, sub.ID, seq.ID, 0, testNow)

	mailer := &fakeMailer{}
	p := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)

	summary, err := p.ProcessDueEnrollments(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Failed: 1}, summary)
	assert.Equal(t, 0, mailer.sentCount())
	assert.Equal(t, models.EnrollmentFailed, f.enrollment(id).Status)
}

func TestProcessorSendsOnceUnderConcurrentInvocations(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	seq := f.addSequence(models.TriggerContactForm, models.SequenceActive, [2]int{0, 0}, [2]int{1, 0})
	addDueEnrollment(f, sub.ID, seq.ID, 0, testNow)

	mailer := &fakeMailer{}
	p1 := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)
	p2 := newTestProcessor(f, mailer, ProcessorOptions{}, testNow)

	var wg sync.WaitGroup
	summaries := make([]Summary, 2)
	for i, p := range []*Processor{p1, p2} {
		wg.Add(1)
		go func(i int, p *Processor) {
			defer wg.Done()
			s, err := p.ProcessDueEnrollments(context.Background(), testNow)
			assert.NoError(t, err)
			summaries[i] = s
		}(i, p)
	}
	wg.Wait()

	// Exactly one invocation wins the claim; the other sees the row as
	// taken and skips it.
	assert.Equal(t, 1, summaries[0].Sent+summaries[1].Sent)
	assert.Equal(t, 1, mailer.sentCount())
	assert.Len(t, f.sendsWithStatus(models.SendSent), 1)
}

// Full lifecycle of a two step welcome drip, driven through the public
// entry points the way production runs it.
func TestTwoStepSequenceLifecycle(t *testing.T) {
	f := newFakeStore()
	sub := f.addSubscriber("dana@example.com", "Dana", models.SubscriberActive)
	f.addSequence(models.TriggerNewsletterSignup, models.SequenceActive, [2]int{0, 0}, [2]int{1, 0})

	m := newTestManager(f)
	result, err := m.Enroll(context.Background(), sub.ID, models.TriggerNewsletterSignup, "newsletter", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeEnrolled, result.Outcome)
	id := result.Enrollment.ID

	mailer := &fakeMailer{}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := NewProcessor(f, mailer, logger, ProcessorOptions{})

	run := func(at time.Time) Summary {
		p.now = func() time.Time { return at }
		s, err := p.ProcessDueEnrollments(context.Background(), at)
		require.NoError(t, err)
		return s
	}

	// One minute after signup the welcome email goes out.
	firstRun := testNow.Add(time.Minute)
	assert.Equal(t, Summary{Processed: 1, Sent: 1}, run(firstRun))

	// Two hours in, step 2 is not due yet.
	assert.Equal(t, Summary{}, run(testNow.Add(2*time.Hour)))

	// A day later step 2 goes out and the enrollment completes.
	assert.Equal(t, Summary{Processed: 1, Sent: 1, Completed: 1}, run(testNow.Add(25*time.Hour)))

	e := f.enrollment(id)
	assert.Equal(t, models.EnrollmentCompleted, e.Status)
	assert.Equal(t, 2, e.CurrentPosition)
	assert.Nil(t, e.NextSendAt)
	assert.Len(t, f.sendsWithStatus(models.SendSent), 2)

	// Idle forever after.
	assert.Equal(t, Summary{}, run(testNow.Add(30*24*time.Hour)))
	assert.Equal(t, 2, mailer.sentCount())

	// The second message rendered the subscriber's first name.
	require.Equal(t, 2, len(mailer.sent))
	assert.Contains(t, mailer.sent[1].HTMLBody, "Hi Dana")
	assert.Equal(t, "dana@example.com", mailer.sent[1].To)
}
