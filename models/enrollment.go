package models

import (
	"time"

	"gorm.io/gorm"
)

// Enrollment statuses. Completed, unsubscribed and failed are terminal.
const (
	EnrollmentActive       = "active"
	EnrollmentPaused       = "paused"
	EnrollmentCompleted    = "completed"
	EnrollmentUnsubscribed = "unsubscribed"
	EnrollmentFailed       = "failed"
)

// SequenceEnrollment tracks one subscriber's progress through one sequence.
// CurrentPosition counts steps already sent; the step due next is at
// CurrentPosition+1. At most one active enrollment may exist per
// (subscriber, sequence) pair — enforced by a partial unique index created
// during migration.
type SequenceEnrollment struct {
	gorm.Model
	SubscriberID uint `gorm:"not null;index" json:"subscriber_id"`
	SequenceID   uint `gorm:"not null;index" json:"sequence_id"`

	Status          string     `gorm:"default:'active';index" json:"status"`
	CurrentPosition int        `gorm:"not null;default:0" json:"current_position"`
	NextSendAt      *time.Time `gorm:"index" json:"next_send_at"`
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`

	Source   string            `json:"source"` // which handler triggered the enrollment
	Metadata map[string]string `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	// Relations
	Subscriber  Subscriber   `json:"-"`
	Sequence    Sequence     `json:"-"`
	SendRecords []SendRecord `gorm:"foreignKey:EnrollmentID" json:"send_records,omitempty"`
}

// Send record statuses. Sent records may later be upgraded by the
// open/click tracking callbacks.
const (
	SendPending = "pending"
	SendSent    = "sent"
	SendFailed  = "failed"
	SendBounced = "bounced"
	SendOpened  = "opened"
	SendClicked = "clicked"
)

// SendRecord is one dispatch attempt for one step of one enrollment. A
// partial unique index on (enrollment_id, step_id) where status='sent'
// makes a duplicate successful send impossible to record.
type SendRecord struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`

	Status            string     `gorm:"not null;default:'pending'" json:"status"`
	ProviderMessageID string     `gorm:"index" json:"provider_message_id"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`

	// Relations
	Enrollment SequenceEnrollment `json:"-"`
	Step       SequenceStep       `json:"-"`
}
