package models

import "gorm.io/gorm"

// ComplianceConfig is a singleton row of send-policy knobs
type ComplianceConfig struct {
	gorm.Model
	MaxEmailsPerHourPerDomain int  `gorm:"default:30" json:"max_emails_per_hour_per_domain"`
	MaxEmailsPerDay           int  `gorm:"default:500" json:"max_emails_per_day"`
	SoftBounceRetryCount      int  `gorm:"default:3" json:"soft_bounce_retry_count"`
	Enabled                   bool `gorm:"default:true" json:"enabled"`
}

// SendLog is an append-only record of every outbound email, used to
// answer sliding-window rate-limit queries by timestamp comparison.
type SendLog struct {
	gorm.Model
	Email   string  `gorm:"not null;index" json:"email"`
	Domain  string  `gorm:"not null;index" json:"domain"`
	Channel Channel `gorm:"not null" json:"channel"`
}

// BounceLog is an append-only record of delivery bounces
type BounceLog struct {
	gorm.Model
	Email  string `gorm:"not null;index" json:"email"`
	Type   string `gorm:"not null" json:"type"` // hard, soft
	Reason string `json:"reason"`
}

// UnsubscribeEntry is an opt-out keyed by email and/or phone suffix
type UnsubscribeEntry struct {
	gorm.Model
	Email       string `gorm:"index" json:"email"`
	Phone       string `json:"phone"`
	PhoneSuffix string `gorm:"index" json:"-"`

	Reason string `json:"reason"`
	Source string `json:"source"` // link, reply, bounce, manual
}

func (u *UnsubscribeEntry) BeforeSave(tx *gorm.DB) error {
	u.PhoneSuffix = PhoneSuffix(u.Phone)
	return nil
}
