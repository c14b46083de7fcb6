package models

import (
	"time"

	"gorm.io/gorm"
)

// ScoreLabel is the derived hot/warm/cold bucket
type ScoreLabel string

const (
	ScoreHot  ScoreLabel = "hot"
	ScoreWarm ScoreLabel = "warm"
	ScoreCold ScoreLabel = "cold"
)

// LabelFor maps a clamped numeric score to its bucket (thresholds 70/40).
func LabelFor(score int) ScoreLabel {
	switch {
	case score >= 70:
		return ScoreHot
	case score >= 40:
		return ScoreWarm
	default:
		return ScoreCold
	}
}

// ScoreBreakdown itemizes the components of the last recomputation
type ScoreBreakdown struct {
	Opens         int `json:"opens"`
	Clicks        int `json:"clicks"`
	Replies       int `json:"replies"`
	ResponseSpeed int `json:"response_speed"`
	Source        int `json:"source"`
	ICP           int `json:"icp"`
	CompanySize   int `json:"company_size"`
	Decay         int `json:"decay"`
}

// LeadScore is one row per lead, always fully recomputed from the
// event log and execution history so it can never drift from its
// inputs.
type LeadScore struct {
	gorm.Model
	LeadID uint `gorm:"not null;uniqueIndex" json:"lead_id"`

	NumericScore int            `gorm:"default:0" json:"numeric_score"` // clamped 0-100
	DerivedLabel ScoreLabel     `gorm:"default:'cold'" json:"derived_label"`
	Breakdown    ScoreBreakdown `gorm:"type:jsonb;serializer:json" json:"breakdown"`

	LastInteractionAt *time.Time `json:"last_interaction_at"`
	LastCalculatedAt  time.Time  `json:"last_calculated_at"`
}

// ScoreEventType classifies entries in the scoring event log
type ScoreEventType string

const (
	ScoreEventSend   ScoreEventType = "send"
	ScoreEventOpen   ScoreEventType = "open"
	ScoreEventClick  ScoreEventType = "click"
	ScoreEventReply  ScoreEventType = "reply"
	ScoreEventDecay  ScoreEventType = "decay"
	ScoreEventManual ScoreEventType = "manual"
)

// LeadScoreEvent is append-only. PointsDelta is informational; the
// authoritative score is recomputed end-to-end, never summed.
type LeadScoreEvent struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`

	EventType   ScoreEventType `gorm:"not null;index" json:"event_type"`
	PointsDelta int            `json:"points_delta"`
	Metadata    string         `gorm:"type:text" json:"metadata"`
}
