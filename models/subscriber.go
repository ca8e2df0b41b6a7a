package models

import (
	"time"

	"gorm.io/gorm"
)

// Subscriber lifecycle statuses
const (
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
	SubscriberInactive     = "inactive"
)

// Subscriber represents a contact captured through the public site
// (newsletter signup, contact form, resource download, booking).
// Subscribers with enrollments in flight are deactivated, never deleted.
type Subscriber struct {
	gorm.Model
	Email     string `gorm:"not null;uniqueIndex" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`

	Status string `gorm:"default:'active';index" json:"status"` // active, unsubscribed, inactive
	Source string `json:"source"`                               // newsletter, contact_form, resource, booking

	UnsubscribeToken string     `gorm:"index" json:"-"`
	UnsubscribedAt   *time.Time `json:"unsubscribed_at,omitempty"`

	// Relations
	Enrollments []SequenceEnrollment `gorm:"foreignKey:SubscriberID" json:"enrollments,omitempty"`
}

// FullName joins the name parts for template rendering.
func (s *Subscriber) FullName() string {
	if s.FirstName == "" {
		return s.LastName
	}
	if s.LastName == "" {
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// ContactSubmission stores a contact form message
type ContactSubmission struct {
	gorm.Model
	SubscriberID uint   `gorm:"not null;index" json:"subscriber_id"`
	Subject      string `json:"subject"`
	Message      string `gorm:"type:text;not null" json:"message"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`

	// Relations
	Subscriber Subscriber `json:"-"`
}

// ResourceDownload records a gated-resource request (worksheets, guides)
type ResourceDownload struct {
	gorm.Model
	SubscriberID uint   `gorm:"not null;index" json:"subscriber_id"`
	ResourceSlug string `gorm:"not null;index" json:"resource_slug"`
	IPAddress    string `json:"ip_address"`

	// Relations
	Subscriber Subscriber `json:"-"`
}
