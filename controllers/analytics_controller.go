package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"stillpoint/models"
	"stillpoint/utils"
)

// AnalyticsController records site events and serves the dashboard stats.
type AnalyticsController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewAnalyticsController(db *gorm.DB, logger *log.Logger) *AnalyticsController {
	return &AnalyticsController{
		DB:     db,
		Logger: logger,
	}
}

// TrackEvent appends one analytics event
func (ac *AnalyticsController) TrackEvent(c *fiber.Ctx) error {
	var input struct {
		EventType string `json:"event_type" validate:"required,max=50"`
		Path      string `json:"path" validate:"omitempty,max=500"`
		Referrer  string `json:"referrer" validate:"omitempty,max=500"`
		Details   string `json:"details" validate:"omitempty,max=2000"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	event := models.AnalyticsEvent{
		EventType: input.EventType,
		Path:      input.Path,
		Referrer:  input.Referrer,
		Details:   input.Details,
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
	if err := ac.DB.Create(&event).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record event", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{"id": event.ID}))
}

// GetDashboardStats returns the admin overview counters
func (ac *AnalyticsController) GetDashboardStats(c *fiber.Ctx) error {
	since := time.Now().AddDate(0, 0, -30)

	var stats struct {
		Subscribers       int64 `json:"subscribers"`
		ActiveEnrollments int64 `json:"active_enrollments"`
		SentLast30Days    int64 `json:"sent_last_30_days"`
		FailedLast30Days  int64 `json:"failed_last_30_days"`
		BookingsLast30    int64 `json:"bookings_last_30_days"`
		PageViewsLast30   int64 `json:"page_views_last_30_days"`
	}

	ac.DB.Model(&models.Subscriber{}).
		Where("status = ?", models.SubscriberActive).
		Count(&stats.Subscribers)
	ac.DB.Model(&models.SequenceEnrollment{}).
		Where("status = ?", models.EnrollmentActive).
		Count(&stats.ActiveEnrollments)
	ac.DB.Model(&models.SendRecord{}).
		Where("status = ? AND sent_at >= ?", models.SendSent, since).
		Count(&stats.SentLast30Days)
	ac.DB.Model(&models.SendRecord{}).
		Where("status = ? AND created_at >= ?", models.SendFailed, since).
		Count(&stats.FailedLast30Days)
	ac.DB.Model(&models.Booking{}).
		Where("status = ? AND created_at >= ?", models.BookingConfirmed, since).
		Count(&stats.BookingsLast30)
	ac.DB.Model(&models.AnalyticsEvent{}).
		Where("event_type = ? AND created_at >= ?", "page_view", since).
		Count(&stats.PageViewsLast30)

	return c.JSON(utils.SuccessResponse(stats))
}
