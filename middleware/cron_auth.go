package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"stillpoint/config"
)

// CronProtected guards the internal scheduler endpoints with a shared
// secret. The external cron trigger sends it in the X-Cron-Secret header;
// the same endpoint stays safely callable by hand for testing.
func CronProtected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := c.Get("X-Cron-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(config.AppConfig.CronSecret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid cron secret",
			})
		}
		return c.Next()
	}
}
