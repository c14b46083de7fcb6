package utils

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"salesloop/models"

	"gorm.io/gorm"
)

// ReplyProcessor owns the reactive half of the automation core: an
// inbound message pauses the forward-moving state machine, feeds the
// scoring engine and then — best effort — invokes classification. The
// enrollment transition always happens first, so a slow or broken
// classifier can never block it.
type ReplyProcessor struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Scorer     *LeadScorer
	Classifier *ReplyClassifier
}

func NewReplyProcessor(db *gorm.DB, logger *log.Logger, scorer *LeadScorer, classifier *ReplyClassifier) *ReplyProcessor {
	return &ReplyProcessor{
		DB:         db,
		Logger:     logger,
		Scorer:     scorer,
		Classifier: classifier,
	}
}

// HandleInbound processes one normalized inbound message end to end.
// A message that matches no contact or lead auto-creates a lead; the
// system never silently drops an inbound message.
func (rp *ReplyProcessor) HandleInbound(ctx context.Context, msg *models.InboundMessage) error {
	lead, contact := rp.matchSender(msg)

	if lead == nil && contact == nil {
		created, err := rp.autoCreateLead(msg)
		if err != nil {
			return fmt.Errorf("failed to auto-create lead for inbound message: %w", err)
		}
		lead = created
	}

	if lead != nil {
		msg.LeadID = &lead.ID
	}
	if contact != nil {
		msg.ContactID = &contact.ID
	}
	if err := rp.DB.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to persist inbound message: %w", err)
	}

	rp.closeEnrollments(msg, lead, contact)

	if lead != nil {
		if err := rp.Scorer.RecordEvent(lead.ID, models.ScoreEventReply, 25, "platform="+msg.Platform); err != nil {
			rp.Logger.Printf("Failed to record reply score event for lead %d: %v", lead.ID, err)
		}
	}

	rp.classify(ctx, msg, lead, contact)
	return nil
}

// matchSender resolves the inbound sender to a contact (preferred)
// or lead. Email platforms match by address; chat platforms by the
// same last-9-digit phone suffix the compliance guard uses.
func (rp *ReplyProcessor) matchSender(msg *models.InboundMessage) (*models.Lead, *models.Contact) {
	var contact models.Contact
	var lead models.Lead

	if msg.Platform == "email" {
		from := strings.ToLower(msg.From)
		if err := rp.DB.Where("email = ?", from).First(&contact).Error; err == nil {
			return nil, &contact
		}
		if err := rp.DB.Where("email = ?", from).First(&lead).Error; err == nil {
			return &lead, nil
		}
		return nil, nil
	}

	suffix := models.PhoneSuffix(msg.From)
	if suffix == "" {
		return nil, nil
	}
	if err := rp.DB.Where("phone_suffix = ?", suffix).First(&contact).Error; err == nil {
		return nil, &contact
	}
	if err := rp.DB.Where("phone_suffix = ?", suffix).First(&lead).Error; err == nil {
		return &lead, nil
	}
	return nil, nil
}

func (rp *ReplyProcessor) autoCreateLead(msg *models.InboundMessage) (*models.Lead, error) {
	lead := models.Lead{
		FirstName: msg.From,
		Source:    "manual",
		Status:    models.LeadNew,
		Notes:     fmt.Sprintf("Auto-created from inbound %s message at %s", msg.Platform, msg.Timestamp.Format(time.RFC3339)),
	}
	if msg.Platform == "email" {
		lead.Email = strings.ToLower(msg.From)
	} else {
		lead.Phone = msg.From
	}
	if err := rp.DB.Create(&lead).Error; err != nil {
		return nil, err
	}
	rp.Logger.Printf("Auto-created lead %d from inbound %s message", lead.ID, msg.Platform)
	return &lead, nil
}

// closeEnrollments transitions every active enrollment of the matched
// entity to replied. The update is guarded on current status so a
// racing scheduler tick cannot resurrect an enrollment closed here,
// and vice versa.
func (rp *ReplyProcessor) closeEnrollments(msg *models.InboundMessage, lead *models.Lead, contact *models.Contact) {
	var enrollments []models.Enrollment
	q := rp.DB.Where("status = ?", models.EnrollmentActive)
	switch {
	case contact != nil:
		q = q.Where("contact_id = ?", contact.ID)
	case lead != nil:
		q = q.Where("lead_id = ?", lead.ID)
	default:
		return
	}
	if err := q.Find(&enrollments).Error; err != nil {
		rp.Logger.Printf("Failed to load active enrollments: %v", err)
		return
	}

	now := time.Now()
	for i := range enrollments {
		e := &enrollments[i]

		res := rp.DB.Model(&models.Enrollment{}).
			Where("id = ? AND status = ?", e.ID, models.EnrollmentActive).
			Updates(map[string]interface{}{
				"status":        models.EnrollmentReplied,
				"next_step_due": nil,
				"completed_at":  now,
			})
		if res.Error != nil {
			rp.Logger.Printf("Failed to close enrollment %d: %v", e.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			// Lost the race to another writer; nothing else to do here.
			continue
		}

		if err := rp.DB.Model(&models.Cadence{}).Where("id = ?", e.CadenceID).
			Update("total_replied", gorm.Expr("total_replied + ?", 1)).Error; err != nil {
			rp.Logger.Printf("Failed to bump total_replied for cadence %d: %v", e.CadenceID, err)
		}

		rp.markLatestExecutionReplied(e.ID, now)

		rp.recordActivity(lead, contact, &e.ID, "replied",
			fmt.Sprintf("Inbound %s reply closed enrollment", msg.Platform))
	}
}

// markLatestExecutionReplied flips the most recent sent/delivered/
// opened execution to replied and stamps replied_at.
func (rp *ReplyProcessor) markLatestExecutionReplied(enrollmentID uint, at time.Time) {
	var exec models.StepExecution
	err := rp.DB.Where("enrollment_id = ? AND status IN ?", enrollmentID,
		[]models.ExecutionStatus{models.ExecutionSent, models.ExecutionDelivered, models.ExecutionOpened}).
		Order("created_at DESC").
		First(&exec).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			rp.Logger.Printf("Failed to load latest execution for enrollment %d: %v", enrollmentID, err)
		}
		return
	}

	if err := rp.DB.Model(&exec).Updates(map[string]interface{}{
		"status":     models.ExecutionReplied,
		"replied_at": at,
	}).Error; err != nil {
		rp.Logger.Printf("Failed to mark execution %d replied: %v", exec.ID, err)
	}
}

// classify runs best-effort classification and records the result with
// the side effects taken. Failures are logged, never propagated — the
// state transition above already happened.
func (rp *ReplyProcessor) classify(ctx context.Context, msg *models.InboundMessage, lead *models.Lead, contact *models.Contact) {
	if rp.Classifier == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}

	result := rp.Classifier.Classify(ctx, msg.Text)
	actions := rp.Classifier.ApplySideEffects(result.Intent, lead, contact)

	record := models.ReplyClassification{
		InboundMessageID: &msg.ID,
		LeadID:           msg.LeadID,
		ContactID:        msg.ContactID,
		ReplyText:        msg.Text,
		Classification:   result.Intent,
		Confidence:       result.Confidence,
		AIReasoning:      result.Reasoning,
		Source:           result.Source,
		ActionsTaken:     actions,
	}
	if err := rp.DB.Create(&record).Error; err != nil {
		rp.Logger.Printf("Failed to persist reply classification: %v", err)
		return
	}

	rp.recordActivity(lead, contact, nil, "reply_classified",
		fmt.Sprintf("Intent %s (%.2f, %s)", result.Intent, result.Confidence, result.Source))
}

func (rp *ReplyProcessor) recordActivity(lead *models.Lead, contact *models.Contact, enrollmentID *uint, activityType, details string) {
	activity := models.LeadActivity{
		EnrollmentID: enrollmentID,
		ActivityType: activityType,
		ActivityAt:   time.Now(),
		Details:      details,
	}
	if lead != nil {
		activity.LeadID = &lead.ID
	}
	if contact != nil {
		activity.ContactID = &contact.ID
	}
	if err := rp.DB.Create(&activity).Error; err != nil {
		rp.Logger.Printf("Failed to record activity %s: %v", activityType, err)
	}
}

// HandleStatusEvent updates a StepExecution from a provider
// delivery/read callback keyed by the external message id. Idempotent:
// timestamps are only set when empty and status only moves forward.
func (rp *ReplyProcessor) HandleStatusEvent(externalID, status string) {
	var exec models.StepExecution
	if err := rp.DB.Where("external_id = ?", externalID).First(&exec).Error; err != nil {
		return
	}

	updates := map[string]interface{}{}
	switch status {
	case "delivered":
		if exec.Status == models.ExecutionSent {
			updates["status"] = models.ExecutionDelivered
		}
	case "read":
		if exec.Status == models.ExecutionSent || exec.Status == models.ExecutionDelivered {
			updates["status"] = models.ExecutionOpened
		}
		if exec.OpenedAt == nil {
			updates["opened_at"] = time.Now()
		}
	case "failed":
		if exec.Status == models.ExecutionSent || exec.Status == models.ExecutionDelivered {
			updates["status"] = models.ExecutionFailed
		}
	}
	if len(updates) == 0 {
		return
	}
	if err := rp.DB.Model(&exec).Updates(updates).Error; err != nil {
		rp.Logger.Printf("Failed to apply status event %s to execution %d: %v", status, exec.ID, err)
	}
}
