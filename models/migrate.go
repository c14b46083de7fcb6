package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table this service owns.
// Shared with the package tests, which run against in-memory SQLite.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Lead{},
		&Contact{},
		&Organization{},
		&LeadActivity{},
		&Task{},
		&Deal{},
		&Cadence{},
		&CadenceStep{},
		&Enrollment{},
		&StepExecution{},
		&ComplianceConfig{},
		&SendLog{},
		&BounceLog{},
		&UnsubscribeEntry{},
		&LeadScore{},
		&LeadScoreEvent{},
		&InboundMessage{},
		&ReplyClassification{},
		&OutboundMessage{},
	)
}
