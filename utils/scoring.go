package utils

import (
	"fmt"
	"log"
	"regexp"
	"time"

	"salesloop/models"

	"gorm.io/gorm"
)

// Engagement point values and caps. Fit tables below.
const (
	openPoints  = 5
	openCap     = 25
	clickPoints = 10
	clickCap    = 30
	replyPoints = 25
	replyCap    = 50

	decayPerDay = 2
)

var sourceScores = map[string]int{
	"referral": 15,
	"website":  10,
	"manual":   5,
	"facebook": 5,
	"csv":      0,
}

var companySizeScores = map[string]int{
	"1000+":    10,
	"201-1000": 8,
	"51-200":   5,
	"11-50":    3,
}

// Job-title tiers for the ICP fit score. First match wins.
var icpTiers = []struct {
	re     *regexp.Regexp
	points int
}{
	{regexp.MustCompile(`(?i)\b(ceo|cto|cfo|coo|chief|founder|fundador|presidente|president|owner|s[óo]cio)\b`), 10},
	{regexp.MustCompile(`(?i)\b(vp|vice[- ]president|director|diretor|diretora|head)\b`), 7},
	{regexp.MustCompile(`(?i)\b(manager|gerente|coordinator|coordenador|coordenadora|supervisor)\b`), 3},
}

// LeadScorer recomputes a lead's score end-to-end from the event log
// and execution history on every triggering event. The score is a pure
// function of its inputs, so it can never drift; recomputing twice
// with no new events yields the same value.
type LeadScorer struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewLeadScorer(db *gorm.DB, logger *log.Logger) *LeadScorer {
	return &LeadScorer{DB: db, Logger: logger}
}

// RecordEvent appends to the event log then immediately recomputes the
// full score. PointsDelta is informational only.
func (ls *LeadScorer) RecordEvent(leadID uint, eventType models.ScoreEventType, pointsDelta int, metadata string) error {
	if err := ls.DB.Create(&models.LeadScoreEvent{
		LeadID:      leadID,
		EventType:   eventType,
		PointsDelta: pointsDelta,
		Metadata:    metadata,
	}).Error; err != nil {
		return fmt.Errorf("failed to record score event: %w", err)
	}

	_, err := ls.Recalculate(leadID)
	return err
}

// Recalculate rebuilds the score from scratch and persists it. Returns
// the updated row.
func (ls *LeadScorer) Recalculate(leadID uint) (*models.LeadScore, error) {
	var lead models.Lead
	if err := ls.DB.First(&lead, leadID).Error; err != nil {
		return nil, fmt.Errorf("lead %d not found: %w", leadID, err)
	}

	var executions []models.StepExecution
	if err := ls.DB.
		Joins("JOIN enrollments ON enrollments.id = step_executions.enrollment_id").
		Where("enrollments.lead_id = ?", leadID).
		Find(&executions).Error; err != nil {
		return nil, err
	}

	var events []models.LeadScoreEvent
	if err := ls.DB.Where("lead_id = ?", leadID).Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, err
	}

	breakdown := models.ScoreBreakdown{
		Opens:         engagementComponent(countOpens(executions), openPoints, openCap),
		Clicks:        engagementComponent(countEvents(events, models.ScoreEventClick), clickPoints, clickCap),
		Replies:       engagementComponent(countReplies(executions), replyPoints, replyCap),
		ResponseSpeed: responseSpeedBonus(executions),
		Source:        sourceScores[lead.Source],
		ICP:           icpScore(lead.JobTitle),
		CompanySize:   companySizeScores[lead.CompanySize],
	}

	lastInteraction := lastNonDecayEventAt(events)
	reference := lead.CreatedAt
	if lastInteraction != nil {
		reference = *lastInteraction
	}
	staleDays := int(time.Since(reference).Hours() / 24)
	if staleDays > 0 {
		breakdown.Decay = -decayPerDay * staleDays
	}

	total := breakdown.Opens + breakdown.Clicks + breakdown.Replies +
		breakdown.ResponseSpeed + breakdown.Source + breakdown.ICP +
		breakdown.CompanySize + breakdown.Decay
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	label := models.LabelFor(total)

	score := models.LeadScore{LeadID: leadID}
	if err := ls.DB.Where("lead_id = ?", leadID).FirstOrCreate(&score).Error; err != nil {
		return nil, err
	}

	score.NumericScore = total
	score.DerivedLabel = label
	score.Breakdown = breakdown
	score.LastInteractionAt = lastInteraction
	score.LastCalculatedAt = time.Now()
	if err := ls.DB.Save(&score).Error; err != nil {
		return nil, err
	}

	// The lead's denormalized label is display-only; NumericScore on
	// the LeadScore row stays authoritative.
	if lead.Score != string(label) {
		if err := ls.DB.Model(&models.Lead{}).Where("id = ?", leadID).
			Update("score", string(label)).Error; err != nil {
			ls.Logger.Printf("Failed to sync lead %d score label: %v", leadID, err)
		}
	}

	return &score, nil
}

func engagementComponent(count, points, limit int) int {
	total := count * points
	if total > limit {
		return limit
	}
	return total
}

func countOpens(executions []models.StepExecution) int {
	n := 0
	for _, e := range executions {
		if e.OpenedAt != nil {
			n++
		}
	}
	return n
}

func countReplies(executions []models.StepExecution) int {
	n := 0
	for _, e := range executions {
		if e.RepliedAt != nil {
			n++
		}
	}
	return n
}

func countEvents(events []models.LeadScoreEvent, eventType models.ScoreEventType) int {
	n := 0
	for _, e := range events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// responseSpeedBonus rewards the fastest send-to-reply interval across
// all executions: 15/10/5/0 points for <1h, <24h, <48h, >=48h.
func responseSpeedBonus(executions []models.StepExecution) int {
	var fastest time.Duration = -1
	for _, e := range executions {
		if e.SentAt == nil || e.RepliedAt == nil {
			continue
		}
		d := e.RepliedAt.Sub(*e.SentAt)
		if d < 0 {
			continue
		}
		if fastest < 0 || d < fastest {
			fastest = d
		}
	}
	if fastest < 0 {
		return 0
	}
	switch {
	case fastest < time.Hour:
		return 15
	case fastest < 24*time.Hour:
		return 10
	case fastest < 48*time.Hour:
		return 5
	}
	return 0
}

func icpScore(jobTitle string) int {
	for _, tier := range icpTiers {
		if tier.re.MatchString(jobTitle) {
			return tier.points
		}
	}
	return 0
}

func lastNonDecayEventAt(events []models.LeadScoreEvent) *time.Time {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType != models.ScoreEventDecay {
			t := events[i].CreatedAt
			return &t
		}
	}
	return nil
}
