package controller

import (
	"log"
	"strings"

	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type CadenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewCadenceController(db *gorm.DB, logger *log.Logger) *CadenceController {
	return &CadenceController{
		DB:     db,
		Logger: logger,
	}
}

// CreateCadence creates a new cadence in draft status, optionally with
// an initial step list.
func (cc *CadenceController) CreateCadence(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string      `json:"name" validate:"required,max=200"`
		Description string      `json:"description" validate:"omitempty,max=2000"`
		Steps       []stepInput `json:"steps"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	cadence := models.Cadence{
		UserID:      user.ID,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Status:      models.CadenceDraft,
	}

	for i, s := range input.Steps {
		step, err := s.toModel(i + 1)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step", err)
		}
		cadence.Steps = append(cadence.Steps, step)
	}

	if err := cc.DB.Create(&cadence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create cadence", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(cadence))
}

// ListCadences returns the user's cadences with their denormalized
// stats, newest first.
func (cc *CadenceController) ListCadences(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var cadences []models.Cadence
	if err := cc.DB.Where("user_id = ?", user.ID).Order("created_at DESC").Find(&cadences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch cadences", err)
	}

	return c.JSON(utils.SuccessResponse(cadences))
}

// GetCadence returns one cadence with its ordered steps.
func (cc *CadenceController) GetCadence(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}
	return c.JSON(utils.SuccessResponse(cadence))
}

// ActivateCadence moves a draft or paused cadence to active. A cadence
// without steps cannot be activated.
func (cc *CadenceController) ActivateCadence(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}

	if cadence.Status != models.CadenceDraft && cadence.Status != models.CadencePaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only draft or paused cadences can be activated", nil)
	}
	if len(cadence.Steps) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Cadence has no steps", nil)
	}

	return cc.setStatus(c, cadence, models.CadenceActive)
}

// PauseCadence stops a cadence from accepting new enrollments. Running
// enrollments keep progressing; pause those individually.
func (cc *CadenceController) PauseCadence(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}

	if cadence.Status != models.CadenceActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Only active cadences can be paused", nil)
	}

	return cc.setStatus(c, cadence, models.CadencePaused)
}

// ArchiveCadence retires a cadence permanently.
func (cc *CadenceController) ArchiveCadence(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}

	if cadence.Status == models.CadenceArchived {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Cadence is already archived", nil)
	}

	return cc.setStatus(c, cadence, models.CadenceArchived)
}

// AddStep appends a step to an editable cadence.
func (cc *CadenceController) AddStep(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}
	if !cadence.Editable() {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Steps can only be changed while the cadence is draft or paused", nil)
	}

	var input stepInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	step, err := input.toModel(len(cadence.Steps) + 1)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step", err)
	}
	step.CadenceID = cadence.ID

	if err := cc.DB.Create(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add step", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

// UpdateStep replaces an existing step's content in place.
func (cc *CadenceController) UpdateStep(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}
	if !cadence.Editable() {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Steps can only be changed while the cadence is draft or paused", nil)
	}

	var step models.CadenceStep
	if err := cc.DB.Where("id = ? AND cadence_id = ?", c.Params("stepID"), cadence.ID).First(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	var input stepInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	updated, err := input.toModel(step.StepOrder)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid step", err)
	}

	step.Channel = updated.Channel
	step.DelayDays = updated.DelayDays
	step.DelayHours = updated.DelayHours
	step.Subject = updated.Subject
	step.Template = updated.Template
	step.Skip = updated.Skip

	if err := cc.DB.Save(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update step", err)
	}

	return c.JSON(utils.SuccessResponse(step))
}

// DeleteStep removes a step and closes the ordering gap so step_order
// stays contiguous and 1-based.
func (cc *CadenceController) DeleteStep(c *fiber.Ctx) error {
	cadence, err := cc.loadCadence(c)
	if err != nil {
		return err
	}
	if !cadence.Editable() {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Steps can only be changed while the cadence is draft or paused", nil)
	}

	var step models.CadenceStep
	if err := cc.DB.Where("id = ? AND cadence_id = ?", c.Params("stepID"), cadence.ID).First(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	err = cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&step).Error; err != nil {
			return err
		}
		return tx.Model(&models.CadenceStep{}).
			Where("cadence_id = ? AND step_order > ?", cadence.ID, step.StepOrder).
			Update("step_order", gorm.Expr("step_order - ?", 1)).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete step", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

// stepInput is the wire shape shared by create/add/update.
type stepInput struct {
	Channel    string                `json:"channel" validate:"required"`
	DelayDays  int                   `json:"delay_days" validate:"min=0"`
	DelayHours int                   `json:"delay_hours" validate:"min=0,max=23"`
	Subject    string                `json:"subject"`
	Template   string                `json:"template"`
	Skip       *models.SkipCondition `json:"skip,omitempty"`
}

func (s *stepInput) toModel(order int) (models.CadenceStep, error) {
	if err := utils.ValidateStruct(s); err != nil {
		return models.CadenceStep{}, err
	}
	channel := models.Channel(s.Channel)
	if !models.ValidChannel(channel) {
		return models.CadenceStep{}, fiber.NewError(fiber.StatusBadRequest, "unknown channel "+s.Channel)
	}
	if s.Skip != nil {
		if err := s.Skip.Validate(); err != nil {
			return models.CadenceStep{}, err
		}
	}
	return models.CadenceStep{
		StepOrder:  order,
		Channel:    channel,
		DelayDays:  s.DelayDays,
		DelayHours: s.DelayHours,
		Subject:    s.Subject,
		Template:   s.Template,
		Skip:       s.Skip,
	}, nil
}

func (cc *CadenceController) loadCadence(c *fiber.Ctx) (*models.Cadence, error) {
	user := c.Locals("user").(*models.User)

	var cadence models.Cadence
	err := cc.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&cadence).Error
	if err != nil {
		return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Cadence not found", nil)
	}
	return &cadence, nil
}

func (cc *CadenceController) setStatus(c *fiber.Ctx, cadence *models.Cadence, status models.CadenceStatus) error {
	if err := cc.DB.Model(cadence).Update("status", status).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update cadence status", err)
	}
	cadence.Status = status
	return c.JSON(utils.SuccessResponse(cadence))
}
