package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"stillpoint/config"
	"stillpoint/models"
	"stillpoint/utils"
)

// Login authenticates a back-office admin and issues the token pair.
func Login(c *fiber.Ctx) error {
	var input struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var admin models.AdminUser
	if err := config.DB.Where("email = ?", input.Email).First(&admin).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid credentials", nil)
	}
	if !admin.IsActive || !admin.CheckPassword(input.Password) {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid credentials", nil)
	}

	accessToken, refreshToken, err := utils.GenerateJWTToken(&admin)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to issue tokens", err)
	}

	config.DB.Model(&admin).Update("last_login_at", time.Now())

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		HTTPOnly: true,
		Secure:   config.AppConfig.Environment == "production",
		SameSite: "Lax",
		Expires:  time.Now().Add(15 * time.Minute),
	})

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"admin": fiber.Map{
			"id":    admin.ID,
			"email": admin.Email,
			"name":  admin.Name,
		},
	}))
}

// RefreshToken exchanges a refresh token for a new pair.
func RefreshToken(c *fiber.Ctx) error {
	var input struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	accessToken, refreshToken, err := utils.RefreshTokens(input.RefreshToken)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid refresh token", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	}))
}

// GetCurrentAdmin returns the authenticated admin profile.
func GetCurrentAdmin(c *fiber.Ctx) error {
	admin := c.Locals("admin").(*models.AdminUser)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"id":            admin.ID,
		"email":         admin.Email,
		"name":          admin.Name,
		"last_login_at": admin.LastLoginAt,
	}))
}

// ChangePassword updates the admin password and bumps the token version so
// existing tokens stop working.
func ChangePassword(c *fiber.Ctx) error {
	admin := c.Locals("admin").(*models.AdminUser)

	var input struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if !admin.CheckPassword(input.CurrentPassword) {
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Current password is incorrect", nil)
	}
	if err := admin.SetPassword(input.NewPassword); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update password", err)
	}

	admin.TokenVersion++
	if err := config.DB.Save(admin).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update password", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"message": "Password updated"}))
}
