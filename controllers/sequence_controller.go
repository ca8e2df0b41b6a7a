package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"stillpoint/models"
	"stillpoint/utils"
)

// SequenceController is the admin CRUD surface for drip sequences and
// their steps.
type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{
		DB:     db,
		Logger: logger,
	}
}

// CreateSequence creates a new draft sequence
func (qc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input struct {
		Name        string `json:"name" validate:"required,max=200"`
		Description string `json:"description" validate:"omitempty,max=2000"`
		TriggerKey  string `json:"trigger_key" validate:"required,max=100"`
		FromName    string `json:"from_name" validate:"omitempty,max=100"`
		FromEmail   string `json:"from_email" validate:"omitempty,email"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sequence := models.Sequence{
		Name:        input.Name,
		Description: input.Description,
		TriggerKey:  input.TriggerKey,
		Status:      models.SequenceDraft,
		FromName:    input.FromName,
		FromEmail:   input.FromEmail,
	}
	if err := qc.DB.Create(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

// GetSequences lists all sequences with their steps
func (qc *SequenceController) GetSequences(c *fiber.Ctx) error {
	var sequences []models.Sequence
	query := qc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("created_at DESC").Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}
	return c.JSON(utils.SuccessResponse(sequences))
}

// GetSequence returns one sequence with steps and enrollment counts
func (qc *SequenceController) GetSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := qc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var counts []struct {
		Status string
		Count  int64
	}
	qc.DB.Model(&models.SequenceEnrollment{}).
		Select("status, count(*) as count").
		Where("sequence_id = ?", sequence.ID).
		Group("status").
		Scan(&counts)

	enrollmentCounts := map[string]int64{}
	for _, row := range counts {
		enrollmentCounts[row.Status] = row.Count
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"sequence":    sequence,
		"enrollments": enrollmentCounts,
	}))
}

// UpdateSequence updates name/description/sender fields
func (qc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := qc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var input struct {
		Name        string `json:"name" validate:"omitempty,max=200"`
		Description string `json:"description" validate:"omitempty,max=2000"`
		TriggerKey  string `json:"trigger_key" validate:"omitempty,max=100"`
		FromName    string `json:"from_name" validate:"omitempty,max=100"`
		FromEmail   string `json:"from_email" validate:"omitempty,email"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	updates := map[string]interface{}{}
	if input.Name != "" {
		updates["name"] = input.Name
	}
	if input.Description != "" {
		updates["description"] = input.Description
	}
	if input.TriggerKey != "" {
		updates["trigger_key"] = input.TriggerKey
	}
	if input.FromName != "" {
		updates["from_name"] = input.FromName
	}
	if input.FromEmail != "" {
		updates["from_email"] = input.FromEmail
	}
	if len(updates) > 0 {
		if err := qc.DB.Model(&sequence).Updates(updates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
		}
	}

	return c.JSON(utils.SuccessResponse(sequence))
}

// ActivateSequence makes a sequence live. A sequence needs at least one
// step, and its trigger key must not already be claimed by another active
// sequence.
func (qc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := qc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var stepCount int64
	qc.DB.Model(&models.SequenceStep{}).Where("sequence_id = ?", sequence.ID).Count(&stepCount)
	if stepCount == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Sequence has no steps", nil)
	}

	var conflict int64
	qc.DB.Model(&models.Sequence{}).
		Where("trigger_key = ? AND status = ? AND id <> ?", sequence.TriggerKey, models.SequenceActive, sequence.ID).
		Count(&conflict)
	if conflict > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Another active sequence already uses this trigger", nil)
	}

	if err := qc.DB.Model(&sequence).Update("status", models.SequenceActive).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to activate sequence", err)
	}

	qc.Logger.Printf("sequence %d (%s) activated", sequence.ID, sequence.TriggerKey)
	return c.JSON(utils.SuccessResponse(sequence))
}

// PauseSequence takes a sequence out of rotation. Existing enrollments
// keep their state; the processor simply stops selecting them while the
// sequence is paused.
func (qc *SequenceController) PauseSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := qc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	if err := qc.DB.Model(&sequence).Update("status", models.SequencePaused).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause sequence", err)
	}
	return c.JSON(utils.SuccessResponse(sequence))
}

// DeleteSequence removes a sequence without active enrollments
func (qc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := qc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var activeCount int64
	qc.DB.Model(&models.SequenceEnrollment{}).
		Where("sequence_id = ? AND status = ?", sequence.ID, models.EnrollmentActive).
		Count(&activeCount)
	if activeCount > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Sequence has active enrollments", nil)
	}

	if err := qc.DB.Delete(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": sequence.ID}))
}

// AddStep appends or inserts a step into a sequence
func (qc *SequenceController) AddStep(c *fiber.Ctx) error {
	var sequence models.Sequence
	if err := qc.DB.First(&sequence, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
	}

	var input struct {
		Position   int    `json:"position" validate:"required,gte=1"`
		Subject    string `json:"subject" validate:"required,max=500"`
		HTMLBody   string `json:"html_body" validate:"required"`
		TextBody   string `json:"text_body"`
		DelayDays  int    `json:"delay_days" validate:"gte=0"`
		DelayHours int    `json:"delay_hours" validate:"gte=0,lte=23"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	step := models.SequenceStep{
		SequenceID: sequence.ID,
		Position:   input.Position,
		Subject:    input.Subject,
		HTMLBody:   input.HTMLBody,
		TextBody:   input.TextBody,
		DelayDays:  input.DelayDays,
		DelayHours: input.DelayHours,
	}
	if err := qc.DB.Create(&step).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			return utils.ErrorResponse(c, fiber.StatusConflict, "A step already exists at this position", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create step", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

// UpdateStep edits a step's content or delay
func (qc *SequenceController) UpdateStep(c *fiber.Ctx) error {
	var step models.SequenceStep
	if err := qc.DB.Where("sequence_id = ?", c.Params("id")).
		First(&step, c.Params("stepID")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	var input struct {
		Subject    string `json:"subject" validate:"omitempty,max=500"`
		HTMLBody   string `json:"html_body"`
		TextBody   string `json:"text_body"`
		DelayDays  *int   `json:"delay_days" validate:"omitempty,gte=0"`
		DelayHours *int   `json:"delay_hours" validate:"omitempty,gte=0,lte=23"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	updates := map[string]interface{}{}
	if input.Subject != "" {
		updates["subject"] = input.Subject
	}
	if input.HTMLBody != "" {
		updates["html_body"] = input.HTMLBody
	}
	if input.TextBody != "" {
		updates["text_body"] = input.TextBody
	}
	if input.DelayDays != nil {
		updates["delay_days"] = *input.DelayDays
	}
	if input.DelayHours != nil {
		updates["delay_hours"] = *input.DelayHours
	}
	if len(updates) > 0 {
		if err := qc.DB.Model(&step).Updates(updates).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update step", err)
		}
	}

	return c.JSON(utils.SuccessResponse(step))
}

// DeleteStep removes a step from a sequence
func (qc *SequenceController) DeleteStep(c *fiber.Ctx) error {
	var step models.SequenceStep
	if err := qc.DB.Where("sequence_id = ?", c.Params("id")).
		First(&step, c.Params("stepID")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	if err := qc.DB.Delete(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete step", err)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": step.ID}))
}
