package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence statuses
const (
	SequenceDraft  = "draft"
	SequenceActive = "active"
	SequencePaused = "paused"
)

// Well-known enrollment trigger keys
const (
	TriggerNewsletterSignup = "newsletter_signup"
	TriggerContactForm      = "contact_form"
	TriggerResourceDownload = "resource_download"
	TriggerBookingConfirmed = "booking_confirmed"
)

// Sequence represents a named drip email campaign definition. Subscribers
// are enrolled when the event named by TriggerKey fires; only one sequence
// per trigger key may be active at a time.
type Sequence struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	TriggerKey  string `gorm:"not null;index" json:"trigger_key"`
	Status      string `gorm:"default:'draft';index" json:"status"` // draft, active, paused

	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`

	// Relations
	Steps       []SequenceStep       `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// SequenceStep is one email in a sequence. Position is 1-based. The delay
// is relative to the previous step's actual send time; for position 1 it is
// relative to enrollment time. A zero delay means the step is eligible on
// the next processor pass.
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_sequence_step_position,unique,priority:1" json:"sequence_id"`
	Position   int  `gorm:"not null;index:idx_sequence_step_position,unique,priority:2" json:"position"`

	Subject  string `gorm:"not null" json:"subject"`
	HTMLBody string `gorm:"type:text;not null" json:"html_body"`
	TextBody string `gorm:"type:text" json:"text_body"`

	DelayDays  int `gorm:"not null;default:0" json:"delay_days"`
	DelayHours int `gorm:"not null;default:0" json:"delay_hours"`

	// Tracking (denormalized)
	SentCount int `gorm:"default:0" json:"sent_count"`

	// Relations
	Sequence Sequence `json:"-"`
}

// Delay returns the configured wait before this step as a duration.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}
