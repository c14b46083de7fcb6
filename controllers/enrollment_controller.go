package controller

import (
	"log"
	"time"

	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

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

// Enroll puts a lead or contact into an active cadence. The first step
// becomes due after its own delay; a zero-delay first step is picked up
// on the next scheduler tick.
func (ec *EnrollmentController) Enroll(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		CadenceID uint  `json:"cadence_id" validate:"required"`
		LeadID    *uint `json:"lead_id"`
		ContactID *uint `json:"contact_id"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if (input.LeadID == nil) == (input.ContactID == nil) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Exactly one of lead_id or contact_id is required", nil)
	}

	var cadence models.Cadence
	if err := ec.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).Where("id = ? AND user_id = ?", input.CadenceID, user.ID).First(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}
	if cadence.Status != models.CadenceActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Cadence is not active", nil)
	}
	if len(cadence.Steps) == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Cadence has no steps", nil)
	}

	if input.LeadID != nil {
		var lead models.Lead
		if err := ec.DB.First(&lead, *input.LeadID).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
	} else {
		var contact models.Contact
		if err := ec.DB.First(&contact, *input.ContactID).Error; err != nil {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
	}

	// One active enrollment per (cadence, entity)
	existing := ec.DB.Model(&models.Enrollment{}).
		Where("cadence_id = ? AND status = ?", cadence.ID, models.EnrollmentActive)
	if input.LeadID != nil {
		existing = existing.Where("lead_id = ?", *input.LeadID)
	} else {
		existing = existing.Where("contact_id = ?", *input.ContactID)
	}
	var count int64
	if err := existing.Count(&count).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to check existing enrollments", err)
	}
	if count > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Already actively enrolled in this cadence", nil)
	}

	now := time.Now()
	enrollment := models.Enrollment{
		CadenceID:   cadence.ID,
		LeadID:      input.LeadID,
		ContactID:   input.ContactID,
		OwnerID:     user.ID,
		Status:      models.EnrollmentActive,
		CurrentStep: 1,
		NextStepDue: utils.Pointer(now.Add(cadence.Steps[0].Delay())),
		StartedAt:   now,
	}

	err := ec.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&enrollment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Cadence{}).Where("id = ?", cadence.ID).
			Update("total_enrolled", gorm.Expr("total_enrolled + ?", 1)).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create enrollment", err)
	}

	utils.Feed.Publish("enrollment_created", "New enrollment in cadence "+cadence.Name)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

// ListEnrollments returns enrollments filtered by optional cadence_id
// and status query parameters.
func (ec *EnrollmentController) ListEnrollments(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	q := ec.DB.Where("owner_id = ?", user.ID)
	if cadenceID := c.Query("cadence_id"); cadenceID != "" {
		q = q.Where("cadence_id = ?", cadenceID)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var enrollments []models.Enrollment
	if err := q.Order("created_at DESC").Limit(200).Find(&enrollments).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch enrollments", err)
	}

	return c.JSON(utils.SuccessResponse(enrollments))
}

// GetEnrollment returns one enrollment with its execution history.
func (ec *EnrollmentController) GetEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.Enrollment
	err := ec.DB.Preload("Executions", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).Where("id = ? AND owner_id = ?", c.Params("id"), user.ID).First(&enrollment).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}

	return c.JSON(utils.SuccessResponse(enrollment))
}

// PauseEnrollment freezes an active enrollment. The due timestamp is
// cleared so the scheduler never picks it up while paused.
func (ec *EnrollmentController) PauseEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	res := ec.DB.Model(&models.Enrollment{}).
		Where("id = ? AND owner_id = ? AND status = ?", c.Params("id"), user.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":        models.EnrollmentPaused,
			"next_step_due": nil,
			"paused_at":     time.Now(),
		})
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to pause enrollment", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Enrollment is not active", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.EnrollmentPaused}))
}

// ResumeEnrollment reactivates a paused enrollment. The current step's
// delay is recomputed from now rather than from the original schedule,
// so a long pause does not produce an immediately overdue step.
func (ec *EnrollmentController) ResumeEnrollment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var enrollment models.Enrollment
	if err := ec.DB.Where("id = ? AND owner_id = ?", c.Params("id"), user.ID).First(&enrollment).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != models.EnrollmentPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only paused enrollments can be resumed", nil)
	}

	var step models.CadenceStep
	delay := time.Duration(0)
	if err := ec.DB.Where("cadence_id = ? AND step_order = ?", enrollment.CadenceID, enrollment.CurrentStep).
		First(&step).Error; err == nil {
		delay = step.Delay()
	}

	res := ec.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentPaused).
		Updates(map[string]interface{}{
			"status":        models.EnrollmentActive,
			"next_step_due": time.Now().Add(delay),
			"paused_at":     nil,
		})
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to resume enrollment", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Enrollment is no longer paused", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.EnrollmentActive}))
}
