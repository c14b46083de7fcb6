package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"salesloop/config"
	"salesloop/middleware"
	"salesloop/routes"
	"salesloop/utils"
	"salesloop/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "SALESLOOP: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry if configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := config.DB

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Build the channel transports. Simulation mode persists outbound
	// artifacts instead of hitting real providers.
	var email utils.EmailTransport
	var chat utils.ChatTransport
	if config.AppConfig.SimulationMode {
		logger.Println("Simulation mode enabled, outbound messages will be persisted only")
		email = utils.NewSimulatedMailer(db, log.New(os.Stdout, "MAILER: ", log.LstdFlags))
		chat = utils.NewSimulatedChat(db, log.New(os.Stdout, "CHAT: ", log.LstdFlags))
	} else {
		email = utils.NewSMTPMailer(db, log.New(os.Stdout, "MAILER: ", log.LstdFlags),
			config.AppConfig.SMTP.Host, config.AppConfig.SMTP.Port,
			config.AppConfig.SMTP.Username, config.AppConfig.SMTP.Password,
			config.AppConfig.FromEmail, config.AppConfig.FromName)
		chat = utils.NewWhatsAppClient(db, log.New(os.Stdout, "CHAT: ", log.LstdFlags),
			config.AppConfig.WhatsApp.Token, config.AppConfig.WhatsApp.PhoneNumberID)
	}

	// Shared automation services
	guard := utils.NewComplianceGuard(db, log.New(os.Stdout, "COMPLIANCE: ", log.LstdFlags))
	scorer := utils.NewLeadScorer(db, log.New(os.Stdout, "SCORE: ", log.LstdFlags))
	dispatcher := utils.NewDispatcher(db, log.New(os.Stdout, "DISPATCH: ", log.LstdFlags),
		email, chat, config.AppConfig.BaseURL, config.AppConfig.TrackingSecret)
	classifier := utils.NewReplyClassifier(db, log.New(os.Stdout, "CLASSIFY: ", log.LstdFlags),
		config.AppConfig.OpenAIKey, config.AppConfig.OpenAIModel, config.AppConfig.ClassifierTimeout)
	processor := utils.NewReplyProcessor(db, log.New(os.Stdout, "REPLY: ", log.LstdFlags), scorer, classifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the cadence scheduler
	cadenceWorker := worker.NewCadenceWorker(db, guard, dispatcher, scorer, log.New(os.Stdout, "CADENCE: ", log.LstdFlags))
	cadenceWorker.Interval = config.AppConfig.SchedulerInterval
	cadenceWorker.BatchSize = config.AppConfig.SchedulerBatchSize
	go cadenceWorker.Start(ctx)

	// Start the daily score decay job
	decayWorker := worker.NewDecayWorker(db, scorer, log.New(os.Stdout, "DECAY: ", log.LstdFlags))
	go decayWorker.Start(ctx)

	// Start the IMAP reply poller when a mailbox is configured
	if config.AppConfig.IMAP.Host != "" {
		replyWorker := worker.NewReplyWorker(config.AppConfig.IMAP, processor, log.New(os.Stdout, "REPLY: ", log.LstdFlags))
		go replyWorker.Start(ctx)
	}

	// Setup routes
	routes.SetupRoutes(app, db, routes.Dependencies{
		Guard:     guard,
		Scorer:    scorer,
		Processor: processor,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
