package utils

import (
	"fmt"
	"log"
	"strings"
	"time"

	"salesloop/models"

	"gorm.io/gorm"
)

// ComplianceGuard decides whether a send is permitted right now, based
// on the unsubscribe list, the send log and the bounce log. It holds
// no state of its own; every decision is computed from persisted rows.
type ComplianceGuard struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewComplianceGuard(db *gorm.DB, logger *log.Logger) *ComplianceGuard {
	return &ComplianceGuard{
		DB:     db,
		Logger: logger,
	}
}

// Config loads the singleton compliance config, creating the default
// row on first use.
func (cg *ComplianceGuard) Config() (models.ComplianceConfig, error) {
	var cfg models.ComplianceConfig
	err := cg.DB.First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		cfg = models.ComplianceConfig{
			MaxEmailsPerHourPerDomain: 30,
			MaxEmailsPerDay:           500,
			SoftBounceRetryCount:      3,
			Enabled:                   true,
		}
		err = cg.DB.Create(&cfg).Error
	}
	return cfg, err
}

// IsUnsubscribed reports whether the email matches an unsubscribe
// entry exactly, or the phone matches any stored phone by last-9-digit
// suffix. The unsubscribe list is honored even when rate limiting is
// disabled.
func (cg *ComplianceGuard) IsUnsubscribed(email, phone string) bool {
	if email != "" {
		var count int64
		cg.DB.Model(&models.UnsubscribeEntry{}).
			Where("email = ?", strings.ToLower(email)).
			Count(&count)
		if count > 0 {
			return true
		}
	}

	suffix := models.PhoneSuffix(phone)
	if suffix != "" {
		var count int64
		cg.DB.Model(&models.UnsubscribeEntry{}).
			Where("phone_suffix = ? AND phone_suffix != ''", suffix).
			Count(&count)
		if count > 0 {
			return true
		}
	}

	return false
}

// CheckRateLimit returns true when a send to the domain is allowed:
// sends to the domain in the trailing hour must be below the per-domain
// cap AND total sends in the trailing 24h below the global cap. Both
// windows slide; they are computed by timestamp comparison against the
// send log, not fixed buckets.
func (cg *ComplianceGuard) CheckRateLimit(domain string) (bool, error) {
	cfg, err := cg.Config()
	if err != nil {
		return false, fmt.Errorf("failed to load compliance config: %w", err)
	}
	if !cfg.Enabled {
		return true, nil
	}

	now := time.Now()

	var hourly int64
	if err := cg.DB.Model(&models.SendLog{}).
		Where("domain = ? AND channel = ? AND created_at > ?", domain, models.ChannelEmail, now.Add(-time.Hour)).
		Count(&hourly).Error; err != nil {
		return false, err
	}
	if hourly >= int64(cfg.MaxEmailsPerHourPerDomain) {
		return false, nil
	}

	var daily int64
	if err := cg.DB.Model(&models.SendLog{}).
		Where("channel = ? AND created_at > ?", models.ChannelEmail, now.Add(-24*time.Hour)).
		Count(&daily).Error; err != nil {
		return false, err
	}
	if daily >= int64(cfg.MaxEmailsPerDay) {
		return false, nil
	}

	return true, nil
}

// RecordSend appends a send-log entry so future rate-limit checks see
// this send.
func (cg *ComplianceGuard) RecordSend(email string, channel models.Channel) error {
	return cg.DB.Create(&models.SendLog{
		Email:   strings.ToLower(email),
		Domain:  EmailDomain(email),
		Channel: channel,
	}).Error
}

// HandleBounce processes a delivery bounce. A hard bounce adds the
// email to the unsubscribe list and closes every active enrollment for
// leads sharing that email; a soft bounce is logged only, retry is the
// scheduler's natural retry-by-not-advancing.
func (cg *ComplianceGuard) HandleBounce(email, bounceType, reason string) error {
	email = strings.ToLower(email)

	if err := cg.DB.Create(&models.BounceLog{
		Email:  email,
		Type:   bounceType,
		Reason: reason,
	}).Error; err != nil {
		return err
	}

	if bounceType != "hard" {
		return nil
	}

	entry := models.UnsubscribeEntry{
		Email:  email,
		Reason: reason,
		Source: "bounce",
	}
	if err := cg.DB.Where("email = ? AND source = ?", email, "bounce").
		FirstOrCreate(&entry).Error; err != nil {
		return err
	}

	var leadIDs []uint
	if err := cg.DB.Model(&models.Lead{}).
		Where("email = ?", email).
		Pluck("id", &leadIDs).Error; err != nil {
		return err
	}
	if len(leadIDs) == 0 {
		return nil
	}

	now := time.Now()
	res := cg.DB.Model(&models.Enrollment{}).
		Where("lead_id IN ? AND status = ?", leadIDs, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":        models.EnrollmentBounced,
			"next_step_due": nil,
			"completed_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		cg.Logger.Printf("Hard bounce for %s closed %d active enrollment(s)", email, res.RowsAffected)
	}

	return nil
}
