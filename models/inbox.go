package models

import (
	"time"

	"gorm.io/gorm"
)

// InboundMessage is a provider payload normalized to the shape the
// reply pipeline works with.
type InboundMessage struct {
	gorm.Model
	Platform  string    `gorm:"not null;index" json:"platform"` // whatsapp, instagram, email
	From      string    `gorm:"not null" json:"from"`
	MessageID string    `gorm:"index" json:"message_id"`
	Text      string    `gorm:"type:text" json:"text"`
	Type      string    `json:"type"` // text, image, audio, ...
	Timestamp time.Time `json:"timestamp"`

	LeadID    *uint `gorm:"index" json:"lead_id,omitempty"`
	ContactID *uint `gorm:"index" json:"contact_id,omitempty"`
}

// Intent is the fixed 7-way classification of an inbound reply
type Intent string

const (
	IntentInterested      Intent = "interested"
	IntentNotInterested   Intent = "not_interested"
	IntentMeetingRequest  Intent = "meeting_request"
	IntentProposalRequest Intent = "proposal_request"
	IntentOutOfOffice     Intent = "out_of_office"
	IntentUnsubscribe     Intent = "unsubscribe"
	IntentOther           Intent = "other"
)

// ValidIntent reports whether i is one of the known intents.
func ValidIntent(i Intent) bool {
	switch i {
	case IntentInterested, IntentNotInterested, IntentMeetingRequest,
		IntentProposalRequest, IntentOutOfOffice, IntentUnsubscribe, IntentOther:
		return true
	}
	return false
}

// ReplyClassification records one classified inbound reply and the
// side effects that were triggered for it.
type ReplyClassification struct {
	gorm.Model
	InboundMessageID *uint `gorm:"index" json:"inbound_message_id,omitempty"`
	LeadID           *uint `gorm:"index" json:"lead_id,omitempty"`
	ContactID        *uint `gorm:"index" json:"contact_id,omitempty"`

	ReplyText      string  `gorm:"type:text" json:"reply_text"`
	Classification Intent  `gorm:"not null" json:"classification"`
	Confidence     float64 `json:"confidence"` // 0..1
	AIReasoning    string  `gorm:"type:text" json:"ai_reasoning"`
	Source         string  `json:"source"` // llm, rules

	ActionsTaken []string `gorm:"type:jsonb;serializer:json" json:"actions_taken"`
	Reviewed     bool     `gorm:"default:false" json:"reviewed"`
}

// OutboundMessage is the persisted artifact of a real or simulated
// send, so the UI reflects activity either way.
type OutboundMessage struct {
	gorm.Model
	Channel      Channel `gorm:"not null" json:"channel"`
	To           string  `gorm:"not null;index" json:"to"`
	Subject      string  `json:"subject"`
	Body         string  `gorm:"type:text" json:"body"`
	MessageID    string  `gorm:"index" json:"message_id"`
	Simulated    bool    `gorm:"default:false" json:"simulated"`
	EnrollmentID *uint   `gorm:"index" json:"enrollment_id,omitempty"`
}
