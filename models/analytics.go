package models

import "gorm.io/gorm"

// AnalyticsEvent is an append-only log of site events (page views, form
// submissions, resource downloads) backing the admin dashboard stats.
type AnalyticsEvent struct {
	gorm.Model
	EventType string `gorm:"not null;index" json:"event_type"` // page_view, form_submit, download, booking
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`

	SubscriberID *uint  `gorm:"index" json:"subscriber_id,omitempty"`
	IPAddress    string `json:"ip_address"`
	UserAgent    string `json:"user_agent"`

	Details string `gorm:"type:text" json:"details"` // JSON payload if needed
}
