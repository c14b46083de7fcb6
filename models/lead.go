package models

import (
	"time"

	"gorm.io/gorm"
)

// LeadStatus is the sales qualification state of a lead
type LeadStatus string

const (
	LeadNew          LeadStatus = "new"
	LeadContacted    LeadStatus = "contacted"
	LeadQualified    LeadStatus = "qualified"
	LeadDisqualified LeadStatus = "disqualified"
	LeadConverted    LeadStatus = "converted"
)

// Lead represents a prospect not yet linked to an organization
type Lead struct {
	gorm.Model
	OwnerID uint `gorm:"index" json:"owner_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"index" json:"email"`
	Phone     string `json:"phone"`
	// Last 9 digits of the phone, maintained on save; the suffix match
	// tolerates country-code/formatting variance.
	PhoneSuffix string `gorm:"index" json:"-"`

	Company     string `json:"company"`
	JobTitle    string `json:"job_title"`
	CompanySize string `json:"company_size"` // "1-10", "11-50", "51-200", "201-1000", "1000+"
	Source      string `json:"source"`       // referral, website, manual, facebook, csv

	Status LeadStatus `gorm:"default:'new'" json:"status"`
	// Denormalized hot/warm/cold label for display; LeadScore.NumericScore
	// is authoritative.
	Score string `gorm:"default:'cold'" json:"score"`

	Notes string `gorm:"type:text" json:"notes"`

	// Relations
	Activities []LeadActivity `gorm:"foreignKey:LeadID" json:"activities,omitempty"`
}

func (l *Lead) BeforeSave(tx *gorm.DB) error {
	l.PhoneSuffix = PhoneSuffix(l.Phone)
	return nil
}

// FullName joins first and last name, tolerating either being empty.
func (l *Lead) FullName() string {
	if l.FirstName == "" {
		return l.LastName
	}
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// Contact is a person attached to an organization
type Contact struct {
	gorm.Model
	OwnerID        uint  `gorm:"index" json:"owner_id"`
	OrganizationID *uint `gorm:"index" json:"organization_id,omitempty"`

	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `gorm:"index" json:"email"`
	Phone       string `json:"phone"`
	PhoneSuffix string `gorm:"index" json:"-"`

	Company  string `json:"company"`
	JobTitle string `json:"job_title"`
}

func (c *Contact) BeforeSave(tx *gorm.DB) error {
	c.PhoneSuffix = PhoneSuffix(c.Phone)
	return nil
}

func (c *Contact) FullName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Organization groups contacts and deals under one account
type Organization struct {
	gorm.Model
	OwnerID uint   `gorm:"index" json:"owner_id"`
	Name    string `gorm:"not null" json:"name"`
	Domain  string `gorm:"index" json:"domain"`
}

// LeadActivity is the audit trail of everything that happened to a
// lead or contact across cadences.
type LeadActivity struct {
	gorm.Model
	LeadID       *uint `gorm:"index" json:"lead_id,omitempty"`
	ContactID    *uint `gorm:"index" json:"contact_id,omitempty"`
	EnrollmentID *uint `gorm:"index" json:"enrollment_id,omitempty"`

	ActivityType string    `gorm:"not null" json:"activity_type"` // step_sent, step_skipped, replied, bounced, unsubscribed, ...
	ActivityAt   time.Time `gorm:"not null" json:"activity_at"`
	Details      string    `gorm:"type:text" json:"details"`
}
