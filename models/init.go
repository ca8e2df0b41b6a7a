package models

import "gorm.io/gorm"

// CreateDefaultSequences seeds the drip sequences a fresh install starts
// with. Sequences are created as drafts so the content can be reviewed
// before activation.
func CreateDefaultSequences(db *gorm.DB) error {
	defaultSequences := []Sequence{
		{
			Name:        "Newsletter Welcome",
			Description: "Three-part welcome series for newsletter signups",
			TriggerKey:  TriggerNewsletterSignup,
			Status:      SequenceDraft,
			Steps: []SequenceStep{
				{
					Position:   1,
					Subject:    "Welcome to the practice newsletter",
					HTMLBody:   "<p>Hi {{.FirstName}},</p><p>Thanks for subscribing. Once a month we share practical notes on anxiety, relationships and self-care.</p>",
					DelayDays:  0,
					DelayHours: 0,
				},
				{
					Position:   2,
					Subject:    "A few resources to get started",
					HTMLBody:   "<p>Hi {{.FirstName}},</p><p>Here are the three most-read guides from our resource library.</p>",
					DelayDays:  2,
					DelayHours: 0,
				},
				{
					Position:   3,
					Subject:    "How therapy works here",
					HTMLBody:   "<p>Hi {{.FirstName}},</p><p>A short overview of what a first session looks like, and how to book one when you are ready.</p>",
					DelayDays:  5,
					DelayHours: 0,
				},
			},
		},
		{
			Name:        "Contact Follow-up",
			Description: "Follow-up after a contact form submission",
			TriggerKey:  TriggerContactForm,
			Status:      SequenceDraft,
			Steps: []SequenceStep{
				{
					Position:   1,
					Subject:    "We received your message",
					HTMLBody:   "<p>Hi {{.FirstName}},</p><p>Thanks for reaching out. We reply to every message within one business day.</p>",
					DelayDays:  0,
					DelayHours: 0,
				},
				{
					Position:   2,
					Subject:    "Still thinking it over?",
					HTMLBody:   "<p>Hi {{.FirstName}},</p><p>If you have questions about fees, insurance or availability, just reply to this email.</p>",
					DelayDays:  3,
					DelayHours: 0,
				},
			},
		},
		{
			Name:        "Booking Confirmation",
			Description: "Confirmation and preparation notes after a paid booking",
			TriggerKey:  TriggerBookingConfirmed,
			Status:      SequenceDraft,
			Steps: []SequenceStep{
				{
					Position:   1,
					Subject:    "Your session is confirmed",
					HTMLBody:   "<p>Hi {{.FirstName}},</p><p>Your booking is confirmed. You will receive the session link and intake forms shortly.</p>",
					DelayDays:  0,
					DelayHours: 0,
				},
			},
		},
	}

	for _, seq := range defaultSequences {
		if err := db.FirstOrCreate(&seq, Sequence{TriggerKey: seq.TriggerKey, Name: seq.Name}).Error; err != nil {
			return err
		}
	}
	return nil
}
