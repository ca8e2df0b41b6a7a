package models

import (
	"time"

	"gorm.io/gorm"
)

// Booking statuses
const (
	BookingPendingPayment = "pending_payment"
	BookingConfirmed      = "confirmed"
	BookingCanceled       = "canceled"
)

// ServiceOffering is a bookable session type (e.g. initial consultation,
// 50-minute individual session). Prices are in cents.
type ServiceOffering struct {
	gorm.Model
	Name            string `gorm:"not null" json:"name"`
	Description     string `json:"description"`
	DurationMinutes int    `gorm:"not null;default:50" json:"duration_minutes"`
	PriceCents      int64  `gorm:"not null" json:"price_cents"`
	Currency        string `gorm:"default:'usd'" json:"currency"`
	IsActive        bool   `gorm:"default:true" json:"is_active"`
}

// Booking represents a session request paid through Stripe. Confirmation
// happens from the payment webhook, which also enrolls the subscriber in
// the booking_confirmed sequence.
type Booking struct {
	gorm.Model
	SubscriberID uint `gorm:"not null;index" json:"subscriber_id"`
	ServiceID    uint `gorm:"not null;index" json:"service_id"`

	Status      string     `gorm:"default:'pending_payment';index" json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Notes       string     `gorm:"type:text" json:"notes"`

	AmountCents           int64  `gorm:"not null" json:"amount_cents"`
	Currency              string `gorm:"default:'usd'" json:"currency"`
	StripePaymentIntentID string `gorm:"index" json:"stripe_payment_intent_id"`
	PaymentStatus         string `gorm:"default:'requires_payment_method'" json:"payment_status"`
	PaidAt                *time.Time `json:"paid_at,omitempty"`

	// Relations
	Subscriber Subscriber      `json:"-"`
	Service    ServiceOffering `json:"-"`
}
