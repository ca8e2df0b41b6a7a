package controller

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"

	"stillpoint/automation"
	"stillpoint/config"
	"stillpoint/models"
	"stillpoint/utils"
)

// InitStripe wires the Stripe API key from config.
func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

// BookingController handles session bookings and their Stripe payments.
// The payment webhook is what confirms a booking and enrolls the client
// into the booking_confirmed sequence.
type BookingController struct {
	DB       *gorm.DB
	Enroller *automation.EnrollmentManager
	Logger   *log.Logger
}

func NewBookingController(db *gorm.DB, enroller *automation.EnrollmentManager, logger *log.Logger) *BookingController {
	return &BookingController{
		DB:       db,
		Enroller: enroller,
		Logger:   logger,
	}
}

// GetServices lists the bookable session types
func (bc *BookingController) GetServices(c *fiber.Ctx) error {
	var services []models.ServiceOffering
	if err := bc.DB.Where("is_active = ?", true).Order("price_cents ASC").Find(&services).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch services", err)
	}
	return c.JSON(utils.SuccessResponse(services))
}

// CreateBooking creates a pending booking and a Stripe PaymentIntent
func (bc *BookingController) CreateBooking(c *fiber.Ctx) error {
	var input struct {
		Email       string `json:"email" validate:"required,email"`
		FirstName   string `json:"first_name" validate:"omitempty,max=100"`
		LastName    string `json:"last_name" validate:"omitempty,max=100"`
		ServiceID   uint   `json:"service_id" validate:"required"`
		ScheduledAt string `json:"scheduled_at" validate:"omitempty"`
		Notes       string `json:"notes" validate:"omitempty,max=2000"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var service models.ServiceOffering
	if err := bc.DB.Where("is_active = ?", true).First(&service, input.ServiceID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Service not found", nil)
	}

	var scheduledAt *time.Time
	if input.ScheduledAt != "" {
		parsed, err := time.Parse(time.RFC3339, input.ScheduledAt)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "scheduled_at must be RFC3339", err)
		}
		scheduledAt = &parsed
	}

	var subscriber models.Subscriber
	err := bc.DB.Where("email = ?", input.Email).First(&subscriber).Error
	if err == gorm.ErrRecordNotFound {
		subscriber = models.Subscriber{
			Email:            input.Email,
			FirstName:        input.FirstName,
			LastName:         input.LastName,
			Status:           models.SubscriberActive,
			Source:           "booking",
			UnsubscribeToken: utils.GenerateToken(),
		}
		err = bc.DB.Create(&subscriber).Error
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save client", err)
	}

	booking := models.Booking{
		SubscriberID: subscriber.ID,
		ServiceID:    service.ID,
		Status:       models.BookingPendingPayment,
		ScheduledAt:  scheduledAt,
		Notes:        input.Notes,
		AmountCents:  service.PriceCents,
		Currency:     service.Currency,
	}
	if err := bc.DB.Create(&booking).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create booking", err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(service.PriceCents),
		Currency: stripe.String(service.Currency),
		Metadata: map[string]string{
			"booking_id":    strconv.Itoa(int(booking.ID)),
			"subscriber_id": strconv.Itoa(int(subscriber.ID)),
		},
		Description:  stripe.String("Booking: " + service.Name),
		ReceiptEmail: stripe.String(subscriber.Email),
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		bc.Logger.Printf("failed to create payment intent for booking %d: %v", booking.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start payment", nil)
	}

	if err := bc.DB.Model(&booking).Updates(map[string]interface{}{
		"stripe_payment_intent_id": pi.ID,
		"payment_status":           string(pi.Status),
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update booking", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"booking_id":    booking.ID,
		"client_secret": pi.ClientSecret,
		"amount":        service.PriceCents,
		"currency":      service.Currency,
	}))
}

// HandleStripeWebhook confirms bookings from payment events
func (bc *BookingController) HandleStripeWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Missing Stripe-Signature header", nil)
	}

	event, err := webhook.ConstructEventWithTolerance(
		c.Body(),
		signature,
		config.AppConfig.StripeWebhookSecret,
		5*time.Minute,
	)
	if err != nil {
		bc.Logger.Printf("webhook signature verification failed: %v", err)
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook signature", nil)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Malformed event payload", err)
		}
		if err := bc.confirmBooking(c, &pi); err != nil {
			bc.Logger.Printf("failed to confirm booking for intent %s: %v", pi.ID, err)
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to confirm booking", nil)
		}
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Malformed event payload", err)
		}
		bc.DB.Model(&models.Booking{}).
			Where("stripe_payment_intent_id = ?", pi.ID).
			Update("payment_status", "failed")
	}

	return c.JSON(fiber.Map{"received": true})
}

func (bc *BookingController) confirmBooking(c *fiber.Ctx, pi *stripe.PaymentIntent) error {
	var booking models.Booking
	if err := bc.DB.Where("stripe_payment_intent_id = ?", pi.ID).First(&booking).Error; err != nil {
		return err
	}
	if booking.Status == models.BookingConfirmed {
		// Stripe retries webhooks; confirmation must be idempotent.
		return nil
	}

	if err := bc.DB.Model(&booking).Updates(map[string]interface{}{
		"status":         models.BookingConfirmed,
		"payment_status": "succeeded",
		"paid_at":        time.Now(),
	}).Error; err != nil {
		return err
	}

	if _, err := bc.Enroller.Enroll(c.Context(), booking.SubscriberID, models.TriggerBookingConfirmed, "booking",
		map[string]string{"booking_id": strconv.Itoa(int(booking.ID))}); err != nil {
		// Enrollment problems must not make Stripe retry a paid booking.
		bc.Logger.Printf("enrollment after booking %d failed: %v", booking.ID, err)
	}

	bc.Logger.Printf("booking %d confirmed", booking.ID)
	return nil
}
