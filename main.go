package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"stillpoint/automation"
	"stillpoint/config"
	"stillpoint/mailer"
	"stillpoint/middleware"
	"stillpoint/routes"
	"stillpoint/store"
	"stillpoint/worker"
)

func main() {
	logger := log.New(os.Stdout, "STILLPOINT: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	appLogger := logrus.New()
	appLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Build the automation subsystem
	st := store.NewGormStore(config.DB)
	smtpMailer := mailer.NewSMTPMailer(config.AppConfig.SMTP,
		time.Duration(config.AppConfig.SendTimeoutSeconds)*time.Second)
	enroller := automation.NewEnrollmentManager(st, log.New(os.Stdout, "ENROLL: ", log.LstdFlags))
	processor := automation.NewProcessor(st, smtpMailer, appLogger, automation.ProcessorOptions{
		MaxRetries: config.AppConfig.MaxSendRetries,
		RetryDelay: time.Duration(config.AppConfig.RetryDelayMinutes) * time.Minute,
		BatchSize:  config.AppConfig.ProcessorBatchSize,
		FromName:   config.AppConfig.SMTP.FromName,
		FromEmail:  config.AppConfig.SMTP.FromEmail,
		SiteURL:    config.AppConfig.SiteURL,
	})

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{config.AppConfig.SiteURL},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Cron-Secret"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           3600,
	}))

	// Start the in-process scheduler alongside the HTTP cron endpoint
	sequenceWorker := worker.NewSequenceWorker(processor,
		log.New(os.Stdout, "WORKER: ", log.LstdFlags),
		time.Duration(config.AppConfig.ProcessorIntervalMinutes)*time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sequenceWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, enroller, processor)

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
