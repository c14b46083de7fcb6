package controller

import (
	"log"
	"time"

	"salesloop/config"
	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type TrackingController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Scorer *utils.LeadScorer
}

func NewTrackingController(db *gorm.DB, logger *log.Logger, scorer *utils.LeadScorer) *TrackingController {
	return &TrackingController{
		DB:     db,
		Logger: logger,
		Scorer: scorer,
	}
}

// HandleOpenTracking serves the 1x1 pixel and records the open. The
// pixel is always returned, even on a stale or unknown message id, so
// mail clients never render a broken image.
func (tc *TrackingController) HandleOpenTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")

	if !utils.ValidTrackingToken(config.AppConfig.TrackingSecret, messageID, token) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid token")
	}

	tc.recordOpen(messageID)

	return c.Type("gif").Send(transparentPixel())
}

// HandleClickTracking records the click and redirects to the original
// URL. A click implies an open; both timestamps are set.
func (tc *TrackingController) HandleClickTracking(c *fiber.Ctx) error {
	messageID := c.Params("messageID")
	token := c.Params("token")
	originalURL := c.Query("url")

	if !utils.ValidTrackingToken(config.AppConfig.TrackingSecret, messageID, token) {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid token")
	}
	if originalURL == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Missing url")
	}

	tc.recordClick(messageID)

	return c.Redirect(originalURL, fiber.StatusFound)
}

// recordOpen sets opened_at once; repeat opens of the same message
// don't move the timestamp or re-score.
func (tc *TrackingController) recordOpen(messageID string) {
	exec, enrollment := tc.lookupExecution(messageID)
	if exec == nil {
		return
	}
	if exec.OpenedAt != nil {
		return
	}

	now := time.Now()
	updates := map[string]interface{}{"opened_at": now}
	if exec.Status == models.ExecutionSent || exec.Status == models.ExecutionDelivered {
		updates["status"] = models.ExecutionOpened
	}
	if err := tc.DB.Model(exec).Updates(updates).Error; err != nil {
		tc.Logger.Printf("Failed to record open for message %s: %v", messageID, err)
		return
	}

	if enrollment != nil && enrollment.LeadID != nil {
		if err := tc.Scorer.RecordEvent(*enrollment.LeadID, models.ScoreEventOpen, 5, "email open"); err != nil {
			tc.Logger.Printf("Failed to record open score event: %v", err)
		}
	}
	utils.Feed.Publish("email_opened", "Message "+messageID+" opened")
}

// recordClick sets clicked_at once, like recordOpen; repeat clicks on
// the same message don't re-score. A click implies an open.
func (tc *TrackingController) recordClick(messageID string) {
	exec, enrollment := tc.lookupExecution(messageID)
	if exec == nil {
		return
	}
	if exec.ClickedAt != nil {
		return
	}

	now := time.Now()
	updates := map[string]interface{}{"clicked_at": now}
	if exec.OpenedAt == nil {
		updates["opened_at"] = now
		if exec.Status == models.ExecutionSent || exec.Status == models.ExecutionDelivered {
			updates["status"] = models.ExecutionOpened
		}
	}
	if err := tc.DB.Model(exec).Updates(updates).Error; err != nil {
		tc.Logger.Printf("Failed to record click for message %s: %v", messageID, err)
		return
	}

	if enrollment != nil && enrollment.LeadID != nil {
		if err := tc.Scorer.RecordEvent(*enrollment.LeadID, models.ScoreEventClick, 10, "link click"); err != nil {
			tc.Logger.Printf("Failed to record click score event: %v", err)
		}
	}
	utils.Feed.Publish("link_clicked", "Message "+messageID+" link clicked")
}

func (tc *TrackingController) lookupExecution(messageID string) (*models.StepExecution, *models.Enrollment) {
	var exec models.StepExecution
	if err := tc.DB.Where("external_id = ?", messageID).First(&exec).Error; err != nil {
		return nil, nil
	}
	var enrollment models.Enrollment
	if err := tc.DB.First(&enrollment, exec.EnrollmentID).Error; err != nil {
		return &exec, nil
	}
	return &exec, &enrollment
}

func transparentPixel() []byte {
	// 1x1 transparent GIF
	return []byte{
		0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
		0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
		0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
		0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
		0x01, 0x00, 0x3b,
	}
}
