package controller

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"stillpoint/automation"
	"stillpoint/models"
	"stillpoint/utils"
)

// SubscriberController handles the public capture endpoints: newsletter
// signup, contact form, resource downloads and unsubscribes. Each capture
// fires the matching enrollment trigger; whether a drip actually starts
// depends on which sequences are active.
type SubscriberController struct {
	DB       *gorm.DB
	Enroller *automation.EnrollmentManager
	Logger   *log.Logger
}

func NewSubscriberController(db *gorm.DB, enroller *automation.EnrollmentManager, logger *log.Logger) *SubscriberController {
	return &SubscriberController{
		DB:       db,
		Enroller: enroller,
		Logger:   logger,
	}
}

// NewsletterSignup registers a newsletter subscriber
func (sc *SubscriberController) NewsletterSignup(c *fiber.Ctx) error {
	var input struct {
		Email     string `json:"email" validate:"required,email"`
		FirstName string `json:"first_name" validate:"omitempty,max=100"`
		LastName  string `json:"last_name" validate:"omitempty,max=100"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	subscriber, err := sc.findOrCreateSubscriber(input.Email, input.FirstName, input.LastName, "newsletter")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save subscriber", err)
	}

	result, err := sc.Enroller.Enroll(c.Context(), subscriber.ID, models.TriggerNewsletterSignup, "newsletter_signup", nil)
	if err != nil {
		// The signup itself succeeded; a broken drip must not bounce the form.
		sc.Logger.Printf("enrollment failed for subscriber %d: %v", subscriber.ID, err)
		result = &automation.EnrollmentResult{Outcome: automation.OutcomeNoSequence}
	}

	sc.recordEvent(c, "form_submit", "/newsletter/signup", subscriber.ID)

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"subscriber_id": subscriber.ID,
		"enrollment":    result.Outcome,
	}))
}

// ContactForm stores a contact message and triggers the follow-up drip
func (sc *SubscriberController) ContactForm(c *fiber.Ctx) error {
	var input struct {
		Email     string `json:"email" validate:"required,email"`
		FirstName string `json:"first_name" validate:"omitempty,max=100"`
		LastName  string `json:"last_name" validate:"omitempty,max=100"`
		Subject   string `json:"subject" validate:"omitempty,max=200"`
		Message   string `json:"message" validate:"required,max=5000"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	subscriber, err := sc.findOrCreateSubscriber(input.Email, input.FirstName, input.LastName, "contact_form")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save subscriber", err)
	}

	submission := models.ContactSubmission{
		SubscriberID: subscriber.ID,
		Subject:      input.Subject,
		Message:      input.Message,
		IPAddress:    c.IP(),
		UserAgent:    c.Get("User-Agent"),
	}
	if err := sc.DB.Create(&submission).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save message", err)
	}

	result, err := sc.Enroller.Enroll(c.Context(), subscriber.ID, models.TriggerContactForm, "contact_form", nil)
	if err != nil {
		sc.Logger.Printf("enrollment failed for subscriber %d: %v", subscriber.ID, err)
		result = &automation.EnrollmentResult{Outcome: automation.OutcomeNoSequence}
	}

	sc.recordEvent(c, "form_submit", "/contact", subscriber.ID)

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"submission_id": submission.ID,
		"enrollment":    result.Outcome,
	}))
}

// DownloadResource gates a resource behind an email capture
func (sc *SubscriberController) DownloadResource(c *fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Resource slug is required", nil)
	}

	var input struct {
		Email     string `json:"email" validate:"required,email"`
		FirstName string `json:"first_name" validate:"omitempty,max=100"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	subscriber, err := sc.findOrCreateSubscriber(input.Email, input.FirstName, "", "resource")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save subscriber", err)
	}

	download := models.ResourceDownload{
		SubscriberID: subscriber.ID,
		ResourceSlug: slug,
		IPAddress:    c.IP(),
	}
	if err := sc.DB.Create(&download).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record download", err)
	}

	result, err := sc.Enroller.Enroll(c.Context(), subscriber.ID, models.TriggerResourceDownload, "resource_download",
		map[string]string{"resource": slug})
	if err != nil {
		sc.Logger.Printf("enrollment failed for subscriber %d: %v", subscriber.ID, err)
		result = &automation.EnrollmentResult{Outcome: automation.OutcomeNoSequence}
	}

	sc.recordEvent(c, "download", "/resources/"+slug, subscriber.ID)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"resource":   slug,
		"enrollment": result.Outcome,
	}))
}

// Unsubscribe handles one-click unsubscribe links from sequence emails.
// The subscriber is deactivated, never deleted, and every active
// enrollment stops immediately.
func (sc *SubscriberController) Unsubscribe(c *fiber.Ctx) error {
	token := c.Params("token")

	var subscriber models.Subscriber
	if err := sc.DB.Where("unsubscribe_token = ?", token).First(&subscriber).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Invalid unsubscribe link", nil)
	}

	err := sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&subscriber).Updates(map[string]interface{}{
			"status":          models.SubscriberUnsubscribed,
			"unsubscribed_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.SequenceEnrollment{}).
			Where("subscriber_id = ? AND status IN ?", subscriber.ID,
				[]string{models.EnrollmentActive, models.EnrollmentPaused}).
			Updates(map[string]interface{}{
				"status":       models.EnrollmentUnsubscribed,
				"next_send_at": nil,
			}).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to unsubscribe", err)
	}

	sc.Logger.Printf("subscriber %d unsubscribed", subscriber.ID)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "You have been unsubscribed.",
	}))
}

// GetSubscribers returns a paginated admin listing
func (sc *SubscriberController) GetSubscribers(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}

	query := sc.DB.Model(&models.Subscriber{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("email ILIKE ?", "%"+search+"%")
	}

	var total int64
	query.Count(&total)

	var subscribers []models.Subscriber
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&subscribers).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch subscribers", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"subscribers": subscribers,
		"total":       total,
		"page":        page,
		"limit":       limit,
	}))
}

// findOrCreateSubscriber upserts by email. A previously unsubscribed or
// inactive contact who submits a form again has given consent again, so
// their status returns to active.
func (sc *SubscriberController) findOrCreateSubscriber(email, firstName, lastName, source string) (*models.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var subscriber models.Subscriber
	err := sc.DB.Where("email = ?", email).First(&subscriber).Error
	if err == nil {
		updates := map[string]interface{}{}
		if subscriber.Status != models.SubscriberActive {
			updates["status"] = models.SubscriberActive
			updates["unsubscribed_at"] = nil
		}
		if firstName != "" && subscriber.FirstName == "" {
			updates["first_name"] = firstName
		}
		if lastName != "" && subscriber.LastName == "" {
			updates["last_name"] = lastName
		}
		if len(updates) > 0 {
			if err := sc.DB.Model(&subscriber).Updates(updates).Error; err != nil {
				return nil, err
			}
		}
		return &subscriber, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	subscriber = models.Subscriber{
		Email:            email,
		FirstName:        firstName,
		LastName:         lastName,
		Status:           models.SubscriberActive,
		Source:           source,
		UnsubscribeToken: utils.GenerateToken(),
	}
	if err := sc.DB.Create(&subscriber).Error; err != nil {
		return nil, err
	}
	return &subscriber, nil
}

func (sc *SubscriberController) recordEvent(c *fiber.Ctx, eventType, path string, subscriberID uint) {
	event := models.AnalyticsEvent{
		EventType:    eventType,
		Path:         path,
		Referrer:     c.Get("Referer"),
		SubscriberID: &subscriberID,
		IPAddress:    c.IP(),
		UserAgent:    c.Get("User-Agent"),
	}
	if err := sc.DB.Create(&event).Error; err != nil {
		sc.Logger.Printf("failed to record analytics event: %v", err)
	}
}
