package controller

import (
	"log"

	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ClassificationController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewClassificationController(db *gorm.DB, logger *log.Logger) *ClassificationController {
	return &ClassificationController{
		DB:     db,
		Logger: logger,
	}
}

// ListClassifications returns classified replies, optionally filtered
// by intent or review state.
func (cc *ClassificationController) ListClassifications(c *fiber.Ctx) error {
	q := cc.DB.Model(&models.ReplyClassification{})

	if intent := c.Query("intent"); intent != "" {
		if !models.ValidIntent(models.Intent(intent)) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown intent", nil)
		}
		q = q.Where("classification = ?", intent)
	}
	if reviewed := c.Query("reviewed"); reviewed != "" {
		q = q.Where("reviewed = ?", reviewed == "true")
	}

	var classifications []models.ReplyClassification
	if err := q.Order("created_at DESC").Limit(200).Find(&classifications).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch classifications", err)
	}

	return c.JSON(utils.SuccessResponse(classifications))
}

// ReviewClassification lets a human confirm or override the
// machine-assigned intent. Overriding does not replay side effects; it
// only corrects the record for reporting and future tuning.
func (cc *ClassificationController) ReviewClassification(c *fiber.Ctx) error {
	var classification models.ReplyClassification
	if err := cc.DB.First(&classification, c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Classification not found", nil)
	}

	var input struct {
		Classification string `json:"classification"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	if input.Classification != "" {
		intent := models.Intent(input.Classification)
		if !models.ValidIntent(intent) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown intent", nil)
		}
		classification.Classification = intent
	}
	classification.Reviewed = true

	if err := cc.DB.Save(&classification).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update classification", err)
	}

	return c.JSON(utils.SuccessResponse(classification))
}
