package controller

import (
	"fmt"
	"log"
	"strings"
	"time"

	"salesloop/config"
	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type UnsubscribeController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewUnsubscribeController(db *gorm.DB, logger *log.Logger) *UnsubscribeController {
	return &UnsubscribeController{
		DB:     db,
		Logger: logger,
	}
}

// ShowUnsubscribePage renders a minimal confirmation page. The actual
// opt-out requires the POST so mail scanners that prefetch links don't
// unsubscribe people by accident.
func (uc *UnsubscribeController) ShowUnsubscribePage(c *fiber.Ctx) error {
	token := c.Params("token")

	email, err := utils.ParseUnsubscribeToken(config.AppConfig.TrackingSecret, token)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid unsubscribe link")
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Unsubscribe</title></head>
<body>
<h2>Unsubscribe</h2>
<p>Confirm that you no longer want to receive messages at <strong>%s</strong>.</p>
<form method="POST" action="/unsubscribe/%s">
<button type="submit">Unsubscribe</button>
</form>
</body>
</html>`, email, token)

	return c.Type("html").SendString(page)
}

// ConfirmUnsubscribe performs the opt-out: records the entry and closes
// every active enrollment reaching this address.
func (uc *UnsubscribeController) ConfirmUnsubscribe(c *fiber.Ctx) error {
	token := c.Params("token")

	email, err := utils.ParseUnsubscribeToken(config.AppConfig.TrackingSecret, token)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid unsubscribe link")
	}
	email = strings.ToLower(email)

	entry := models.UnsubscribeEntry{
		Email:  email,
		Reason: "recipient request",
		Source: "link",
	}
	if err := uc.DB.Where("email = ?", email).FirstOrCreate(&entry).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record unsubscribe", err)
	}

	uc.closeEnrollmentsForEmail(email)

	utils.LogEvent("unsubscribed", map[string]interface{}{"email": email, "source": "link"})
	return c.Type("html").SendString("<html><body><p>You have been unsubscribed.</p></body></html>")
}

// closeEnrollmentsForEmail transitions active enrollments whose lead or
// contact uses this address to unsubscribed.
func (uc *UnsubscribeController) closeEnrollmentsForEmail(email string) {
	now := time.Now()

	var leadIDs []uint
	uc.DB.Model(&models.Lead{}).Where("email = ?", email).Pluck("id", &leadIDs)
	if len(leadIDs) > 0 {
		uc.DB.Model(&models.Enrollment{}).
			Where("lead_id IN ? AND status = ?", leadIDs, models.EnrollmentActive).
			Updates(map[string]interface{}{
				"status":        models.EnrollmentUnsubscribed,
				"next_step_due": nil,
				"completed_at":  now,
			})
	}

	var contactIDs []uint
	uc.DB.Model(&models.Contact{}).Where("email = ?", email).Pluck("id", &contactIDs)
	if len(contactIDs) > 0 {
		uc.DB.Model(&models.Enrollment{}).
			Where("contact_id IN ? AND status = ?", contactIDs, models.EnrollmentActive).
			Updates(map[string]interface{}{
				"status":        models.EnrollmentUnsubscribed,
				"next_step_due": nil,
				"completed_at":  now,
			})
	}
}
