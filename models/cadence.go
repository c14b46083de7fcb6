package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CadenceStatus is the lifecycle state of a cadence template
type CadenceStatus string

const (
	CadenceDraft    CadenceStatus = "draft"
	CadenceActive   CadenceStatus = "active"
	CadencePaused   CadenceStatus = "paused"
	CadenceArchived CadenceStatus = "archived"
)

// Channel identifies how a cadence step reaches the target
type Channel string

const (
	ChannelEmail          Channel = "email"
	ChannelWhatsApp       Channel = "whatsapp"
	ChannelCall           Channel = "call"
	ChannelTask           Channel = "task"
	ChannelLinkedInManual Channel = "linkedin_manual"
)

// ValidChannel reports whether c is one of the known channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelWhatsApp, ChannelCall, ChannelTask, ChannelLinkedInManual:
		return true
	}
	return false
}

// EnrollmentStatus is the state machine for a live enrollment.
// active -> {paused, completed, replied, bounced, unsubscribed}; only
// paused can go back to active.
type EnrollmentStatus string

const (
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentPaused       EnrollmentStatus = "paused"
	EnrollmentCompleted    EnrollmentStatus = "completed"
	EnrollmentReplied      EnrollmentStatus = "replied"
	EnrollmentBounced      EnrollmentStatus = "bounced"
	EnrollmentUnsubscribed EnrollmentStatus = "unsubscribed"
)

// ExecutionStatus is the outcome of one attempted step dispatch
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionSent      ExecutionStatus = "sent"
	ExecutionDelivered ExecutionStatus = "delivered"
	ExecutionOpened    ExecutionStatus = "opened"
	ExecutionReplied   ExecutionStatus = "replied"
	ExecutionBounced   ExecutionStatus = "bounced"
	ExecutionFailed    ExecutionStatus = "failed"
)

// SkipKind tags the step skip-condition union
type SkipKind string

const (
	SkipLeadStatus     SkipKind = "lead_status"
	SkipOpenedPrevious SkipKind = "opened_previous"
	SkipHasDeal        SkipKind = "has_deal"
)

// SkipCondition is a tagged union: Kind selects which payload field is
// meaningful. Unknown kinds are rejected at the API boundary.
type SkipCondition struct {
	Kind SkipKind `json:"kind"`

	// lead_status payload
	Status string `json:"status,omitempty"`

	// has_deal payload
	Stage string `json:"stage,omitempty"`
}

// Validate rejects unknown kinds and missing payloads instead of
// silently treating the condition as "always true".
func (sc *SkipCondition) Validate() error {
	switch sc.Kind {
	case SkipLeadStatus:
		if sc.Status == "" {
			return fmt.Errorf("skip condition %q requires a status", sc.Kind)
		}
	case SkipHasDeal:
		// stage is optional; empty means any deal
	case SkipOpenedPrevious:
		// no payload
	default:
		return fmt.Errorf("unknown skip condition kind %q", sc.Kind)
	}
	return nil
}

// Cadence is a reusable multi-step outreach sequence template
type Cadence struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	Status      CadenceStatus `gorm:"default:'draft'" json:"status"`

	// Statistics (denormalized for performance)
	TotalEnrolled  int `gorm:"default:0" json:"total_enrolled"`
	TotalCompleted int `gorm:"default:0" json:"total_completed"`
	TotalReplied   int `gorm:"default:0" json:"total_replied"`

	// Relations
	Steps       []CadenceStep `gorm:"foreignKey:CadenceID" json:"steps,omitempty"`
	Enrollments []Enrollment  `gorm:"foreignKey:CadenceID" json:"enrollments,omitempty"`
}

// Editable reports whether steps may be added or changed. Enforced at
// the controller boundary, not by the scheduler.
func (c *Cadence) Editable() bool {
	return c.Status == CadenceDraft || c.Status == CadencePaused
}

// CadenceStep is one ordered, delayed, channel-typed action
type CadenceStep struct {
	gorm.Model
	CadenceID uint `gorm:"not null;index" json:"cadence_id"`

	StepOrder  int     `gorm:"not null" json:"step_order"` // 1-based
	Channel    Channel `gorm:"not null" json:"channel"`
	DelayDays  int     `gorm:"default:0" json:"delay_days"`
	DelayHours int     `gorm:"default:0" json:"delay_hours"`

	Subject  string `json:"subject"`
	Template string `gorm:"type:text" json:"template"` // {placeholder} variables

	Skip *SkipCondition `gorm:"type:jsonb;serializer:json" json:"skip,omitempty"`
}

// Delay is the wait applied after the previous step completes.
func (s *CadenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// Enrollment is one lead/contact's live progress through a cadence.
// Exactly one of LeadID/ContactID is set. At most one active enrollment
// may exist per (cadence, lead) or (cadence, contact) pair.
type Enrollment struct {
	gorm.Model
	CadenceID uint  `gorm:"not null;index" json:"cadence_id"`
	LeadID    *uint `gorm:"index" json:"lead_id,omitempty"`
	ContactID *uint `gorm:"index" json:"contact_id,omitempty"`
	OwnerID   uint  `gorm:"not null;index" json:"owner_id"`

	Status      EnrollmentStatus `gorm:"default:'active';index:idx_enrollments_due" json:"status"`
	CurrentStep int              `gorm:"default:1" json:"current_step"` // 1-based, monotonically non-decreasing while active
	NextStepDue *time.Time       `gorm:"index:idx_enrollments_due" json:"next_step_due"`

	StartedAt   time.Time  `json:"started_at"`
	PausedAt    *time.Time `json:"paused_at"`
	CompletedAt *time.Time `json:"completed_at"`
	LastStepAt  *time.Time `json:"last_step_at"`

	// Relations
	Cadence    Cadence         `json:"-"`
	Executions []StepExecution `gorm:"foreignKey:EnrollmentID" json:"executions,omitempty"`
}

// StepExecution records one attempted dispatch of a step. Immutable
// once written except for engagement timestamps updated by tracking
// and inbound processing.
type StepExecution struct {
	gorm.Model
	EnrollmentID  uint `gorm:"not null;index" json:"enrollment_id"`
	CadenceStepID uint `gorm:"not null;index" json:"cadence_step_id"`

	Channel Channel         `gorm:"not null" json:"channel"`
	Status  ExecutionStatus `gorm:"default:'pending'" json:"status"`

	SentAt    *time.Time `json:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at"`
	RepliedAt *time.Time `json:"replied_at"`

	Error string `json:"error"`

	// Provider message id, used to correlate delivery/read webhooks
	// and tracking hits back to this row.
	ExternalID string `gorm:"index" json:"external_id"`

	// Relations
	Enrollment Enrollment `json:"-"`
}
