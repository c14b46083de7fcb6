package routes

import (
	"log"
	"os"

	controller "salesloop/controllers"
	"salesloop/middleware"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"
)

// Dependencies carries the shared automation services the controllers
// need; they are constructed once in main and threaded through here.
type Dependencies struct {
	Guard     *utils.ComplianceGuard
	Scorer    *utils.LeadScorer
	Processor *utils.ReplyProcessor
}

// SetupPublicRoutes registers the endpoints that providers and mail
// clients reach without authentication: tracking, unsubscribe and
// webhooks.
func SetupPublicRoutes(app *fiber.App, db *gorm.DB, deps Dependencies) {
	trackingController := controller.NewTrackingController(db, log.New(os.Stdout, "TRACK: ", log.LstdFlags), deps.Scorer)
	unsubscribeController := controller.NewUnsubscribeController(db, log.New(os.Stdout, "UNSUB: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(db, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags), deps.Processor, deps.Guard)

	app.Get("/track/open/:messageID/:token", trackingController.HandleOpenTracking)
	app.Get("/track/click/:messageID/:token", trackingController.HandleClickTracking)

	app.Get("/unsubscribe/:token", unsubscribeController.ShowUnsubscribePage)
	app.Post("/unsubscribe/:token", unsubscribeController.ConfirmUnsubscribe)

	webhook := app.Group("/webhook", middleware.WebhookRateLimiter())
	webhook.Get("/:platform", webhookController.VerifyWebhook)
	webhook.Post("/:platform", webhookController.HandleWebhook)
}

// SetupAPIRoutes registers the authenticated automation API.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, deps Dependencies) {
	cadenceController := controller.NewCadenceController(db, log.New(os.Stdout, "CADENCE: ", log.LstdFlags))
	enrollmentController := controller.NewEnrollmentController(db, log.New(os.Stdout, "ENROLL: ", log.LstdFlags))
	scoringController := controller.NewScoringController(db, log.New(os.Stdout, "SCORE: ", log.LstdFlags), deps.Scorer)
	classificationController := controller.NewClassificationController(db, log.New(os.Stdout, "CLASSIFY: ", log.LstdFlags))
	complianceController := controller.NewComplianceController(db, log.New(os.Stdout, "COMPLIANCE: ", log.LstdFlags), deps.Guard)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Cadence routes
	cadence := api.Group("/cadences")
	cadence.Post("/", cadenceController.CreateCadence)
	cadence.Get("/", cadenceController.ListCadences)
	cadence.Get("/:id", cadenceController.GetCadence)
	cadence.Post("/:id/activate", cadenceController.ActivateCadence)
	cadence.Post("/:id/pause", cadenceController.PauseCadence)
	cadence.Post("/:id/archive", cadenceController.ArchiveCadence)
	cadence.Post("/:id/steps", cadenceController.AddStep)
	cadence.Put("/:id/steps/:stepID", cadenceController.UpdateStep)
	cadence.Delete("/:id/steps/:stepID", cadenceController.DeleteStep)

	// Enrollment routes
	enrollment := api.Group("/enrollments")
	enrollment.Post("/", enrollmentController.Enroll)
	enrollment.Get("/", enrollmentController.ListEnrollments)
	enrollment.Get("/:id", enrollmentController.GetEnrollment)
	enrollment.Post("/:id/pause", enrollmentController.PauseEnrollment)
	enrollment.Post("/:id/resume", enrollmentController.ResumeEnrollment)

	// Scoring routes
	score := api.Group("/leads/:leadID/score")
	score.Get("/", scoringController.GetLeadScore)
	score.Post("/recalculate", scoringController.RecalculateLeadScore)
	score.Get("/events", scoringController.ListScoreEvents)

	// Classification routes
	classification := api.Group("/classifications")
	classification.Get("/", classificationController.ListClassifications)
	classification.Post("/:id/review", classificationController.ReviewClassification)

	// Compliance config routes
	compliance := api.Group("/compliance")
	compliance.Get("/config", complianceController.GetComplianceConfig)
	compliance.Put("/config", complianceController.UpdateComplianceConfig)

	// WebSocket route for the live automation feed
	app.Get("/api/v1/automation/feed", websocket.New(func(c *websocket.Conn) {
		controller.HandleAutomationFeedWS(c)
	}))

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB, deps Dependencies) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupPublicRoutes(app, db, deps)
	SetupAPIRoutes(app, db, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
