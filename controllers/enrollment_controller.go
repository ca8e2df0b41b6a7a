package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"stillpoint/models"
	"stillpoint/utils"
)

// EnrollmentController is the admin surface for inspecting and steering
// individual enrollments.
type EnrollmentController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewEnrollmentController(db *gorm.DB, logger *log.Logger) *EnrollmentController {
	return &EnrollmentController{
		DB:     db,
		Logger: logger,
	}
}

// GetEnrollments lists enrollments with optional filters
func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	if limit > 100 {
		limit = 100
	}

	query := ec.DB.Model(&models.SequenceEnrollment{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if sequenceID := c.Query("sequence_id"); sequenceID != "" {
		query = query.Where("sequence_id = ?", sequenceID)
	}
	if subscriberID := c.Query("subscriber_id"); subscriberID != "" {
		query = query.Where("subscriber_id = ?", subscriberID)
	}

	var total int64
	query.Count(&total)

	var enrollments []models.SequenceEnrollment
	if err := query.Preload("Subscriber").Preload("Sequence").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"enrollments": enrollments,
		"total":       total,
		"page":        page,
		"limit":       limit,
	}))
}

// GetEnrollment returns one enrollment with its send history
func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	var enrollment models.SequenceEnrollment
	if err := ec.DB.Preload("Subscriber").Preload("Sequence").
		Preload("SendRecords", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&enrollment, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}

// PauseEnrollment suspends sending for one enrollment
func (ec *EnrollmentController) PauseEnrollment(c *fiber.Ctx) error {
	var enrollment models.SequenceEnrollment
	if err := ec.DB.First(&enrollment, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != models.EnrollmentActive {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only active enrollments can be paused", nil)
	}

	if err := ec.DB.Model(&enrollment).Update("status", models.EnrollmentPaused).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause enrollment", err)
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}

// ResumeEnrollment reactivates a paused enrollment. The pending step
// becomes due immediately; the processor picks it up on its next pass.
func (ec *EnrollmentController) ResumeEnrollment(c *fiber.Ctx) error {
	var enrollment models.SequenceEnrollment
	if err := ec.DB.First(&enrollment, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != models.EnrollmentPaused {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only paused enrollments can be resumed", nil)
	}

	if err := ec.DB.Model(&enrollment).Updates(map[string]interface{}{
		"status":       models.EnrollmentActive,
		"next_send_at": time.Now(),
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resume enrollment", err)
	}

	ec.Logger.Printf("enrollment %d resumed", enrollment.ID)
	return c.JSON(utils.SuccessResponse(enrollment))
}
