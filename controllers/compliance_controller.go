package controller

import (
	"log"

	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ComplianceController struct {
	DB     *gorm.DB
	Logger *log.Logger
	Guard  *utils.ComplianceGuard
}

func NewComplianceController(db *gorm.DB, logger *log.Logger, guard *utils.ComplianceGuard) *ComplianceController {
	return &ComplianceController{
		DB:     db,
		Logger: logger,
		Guard:  guard,
	}
}

// GetComplianceConfig returns the singleton sending-limits config.
func (cc *ComplianceController) GetComplianceConfig(c *fiber.Ctx) error {
	cfg, err := cc.Guard.Config()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load compliance config", err)
	}
	return c.JSON(utils.SuccessResponse(cfg))
}

// UpdateComplianceConfig updates the sending limits. Zero values are
// rejected rather than treated as "unlimited".
func (cc *ComplianceController) UpdateComplianceConfig(c *fiber.Ctx) error {
	var input struct {
		MaxEmailsPerHourPerDomain int  `json:"max_emails_per_hour_per_domain" validate:"required,min=1"`
		MaxEmailsPerDay           int  `json:"max_emails_per_day" validate:"required,min=1"`
		SoftBounceRetryCount      int  `json:"soft_bounce_retry_count" validate:"min=0"`
		Enabled                   bool `json:"enabled"`
	}

	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	cfg, err := cc.Guard.Config()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load compliance config", err)
	}

	cfg.MaxEmailsPerHourPerDomain = input.MaxEmailsPerHourPerDomain
	cfg.MaxEmailsPerDay = input.MaxEmailsPerDay
	cfg.SoftBounceRetryCount = input.SoftBounceRetryCount
	cfg.Enabled = input.Enabled

	if err := cc.DB.Save(&cfg).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update compliance config", err)
	}

	return c.JSON(utils.SuccessResponse(cfg))
}
