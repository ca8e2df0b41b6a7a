package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	"stillpoint/automation"
	controller "stillpoint/controllers"
	"stillpoint/middleware"
)

// SetupRoutes wires the public site API, the admin back-office API and the
// internal cron endpoint.
func SetupRoutes(app *fiber.App, db *gorm.DB, enroller *automation.EnrollmentManager, runner controller.SequenceRunner) {
	// Initialize Stripe
	controller.InitStripe()

	subscriberController := controller.NewSubscriberController(db, enroller, log.New(os.Stdout, "SUBSCRIBER: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))
	enrollmentController := controller.NewEnrollmentController(db, log.New(os.Stdout, "ENROLLMENT: ", log.LstdFlags))
	bookingController := controller.NewBookingController(db, enroller, log.New(os.Stdout, "BOOKING: ", log.LstdFlags))
	analyticsController := controller.NewAnalyticsController(db, log.New(os.Stdout, "ANALYTICS: ", log.LstdFlags))
	cronController := controller.NewCronController(runner, log.New(os.Stdout, "CRON: ", log.LstdFlags))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Public site API
	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	forms := api.Group("", middleware.FormRateLimiter())
	forms.Post("/newsletter/signup", subscriberController.NewsletterSignup)
	forms.Post("/contact", subscriberController.ContactForm)
	forms.Post("/resources/:slug/download", subscriberController.DownloadResource)

	api.Get("/unsubscribe/:token", subscriberController.Unsubscribe)
	api.Get("/services", bookingController.GetServices)
	api.Post("/bookings", bookingController.CreateBooking)
	api.Post("/bookings/webhook", bookingController.HandleStripeWebhook)
	api.Post("/events", analyticsController.TrackEvent)

	// Auth endpoints
	auth := app.Group("/auth")
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentAdmin)
	protectedAuth.Post("/change-password", controller.ChangePassword)

	// Admin back-office API
	admin := app.Group("/admin/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	sequences := admin.Group("/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.GetSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Put("/:id", sequenceController.UpdateSequence)
	sequences.Post("/:id/activate", sequenceController.ActivateSequence)
	sequences.Post("/:id/pause", sequenceController.PauseSequence)
	sequences.Delete("/:id", sequenceController.DeleteSequence)
	sequences.Post("/:id/steps", sequenceController.AddStep)
	sequences.Put("/:id/steps/:stepID", sequenceController.UpdateStep)
	sequences.Delete("/:id/steps/:stepID", sequenceController.DeleteStep)

	enrollments := admin.Group("/enrollments")
	enrollments.Get("/", enrollmentController.GetEnrollments)
	enrollments.Get("/:id", enrollmentController.GetEnrollment)
	enrollments.Post("/:id/pause", enrollmentController.PauseEnrollment)
	enrollments.Post("/:id/resume", enrollmentController.ResumeEnrollment)

	admin.Get("/subscribers", subscriberController.GetSubscribers)
	admin.Get("/dashboard/stats", analyticsController.GetDashboardStats)

	// Internal scheduler endpoint (shared secret, also callable by hand)
	internal := app.Group("/internal/cron", middleware.CronProtected())
	internal.Post("/process-sequences", cronController.ProcessSequences)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("Routes initialized successfully")
}
