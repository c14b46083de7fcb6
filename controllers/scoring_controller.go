package controller

import (
	"log"

	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ScoringController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Scorer *utils.LeadScorer
}

func NewScoringController(db *gorm.DB, logger *log.Logger, scorer *utils.LeadScorer) *ScoringController {
	return &ScoringController{
		DB:     db,
		Logger: logger,
		Scorer: scorer,
	}
}

// GetLeadScore returns the stored score with its component breakdown.
// A lead that was never scored gets computed on first read.
func (sc *ScoringController) GetLeadScore(c *fiber.Ctx) error {
	leadID := utils.ParseUint(c.Params("leadID"))
	if leadID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead id", nil)
	}

	var score models.LeadScore
	if err := sc.DB.Where("lead_id = ?", leadID).First(&score).Error; err == nil {
		return c.JSON(utils.SuccessResponse(score))
	}

	computed, err := sc.Scorer.Recalculate(leadID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", err)
	}
	return c.JSON(utils.SuccessResponse(computed))
}

// RecalculateLeadScore forces a full recompute.
func (sc *ScoringController) RecalculateLeadScore(c *fiber.Ctx) error {
	leadID := utils.ParseUint(c.Params("leadID"))
	if leadID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead id", nil)
	}

	score, err := sc.Scorer.Recalculate(leadID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", err)
	}

	return c.JSON(utils.SuccessResponse(score))
}

// ListScoreEvents returns the lead's scoring event log, newest first.
func (sc *ScoringController) ListScoreEvents(c *fiber.Ctx) error {
	leadID := utils.ParseUint(c.Params("leadID"))
	if leadID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lead id", nil)
	}

	var events []models.LeadScoreEvent
	if err := sc.DB.Where("lead_id = ?", leadID).
		Order("created_at DESC").Limit(200).Find(&events).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch score events", err)
	}

	return c.JSON(utils.SuccessResponse(events))
}
