package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"salesloop/models"
	"salesloop/utils"

	"gorm.io/gorm"
)

// CadenceWorker drives forward progress: on a fixed interval it picks
// up due enrollments, consults the compliance guard, dispatches the
// current step and advances the state machine. It is an owned object
// with an explicit lifecycle, not global state; all collaborators are
// injected.
type CadenceWorker struct {
	DB         *gorm.DB
	Guard      *utils.ComplianceGuard
	Dispatcher *utils.Dispatcher
	Scorer     *utils.LeadScorer
	Logger     *log.Logger

	Interval  time.Duration
	BatchSize int

	stopCh chan struct{}
}

func NewCadenceWorker(db *gorm.DB, guard *utils.ComplianceGuard, dispatcher *utils.Dispatcher, scorer *utils.LeadScorer, logger *log.Logger) *CadenceWorker {
	return &CadenceWorker{
		DB:         db,
		Guard:      guard,
		Dispatcher: dispatcher,
		Scorer:     scorer,
		Logger:     logger,
		Interval:   60 * time.Second,
		BatchSize:  50,
		stopCh:     make(chan struct{}),
	}
}

// Start blocks until the context is canceled or Stop is called. One
// batch runs immediately; the ticker drives the rest.
func (cw *CadenceWorker) Start(ctx context.Context) {
	cw.Logger.Println("Cadence worker started")

	cw.ProcessDueEnrollments()

	ticker := time.NewTicker(cw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cw.Logger.Println("Cadence worker shutting down...")
			return
		case <-cw.stopCh:
			cw.Logger.Println("Cadence worker stopped")
			return
		case <-ticker.C:
			cw.ProcessDueEnrollments()
		}
	}
}

// Stop terminates the worker loop.
func (cw *CadenceWorker) Stop() {
	close(cw.stopCh)
}

// ProcessDueEnrollments runs one tick. The batch bound caps tick
// latency and provides natural backpressure; ordering is arbitrary.
// Each enrollment is processed in isolation: one bad record never
// stalls the batch.
func (cw *CadenceWorker) ProcessDueEnrollments() {
	var due []models.Enrollment
	if err := cw.DB.
		Where("status = ? AND next_step_due IS NOT NULL AND next_step_due <= ?", models.EnrollmentActive, time.Now()).
		Limit(cw.BatchSize).
		Find(&due).Error; err != nil {
		cw.Logger.Printf("Error fetching due enrollments: %v", err)
		return
	}

	for i := range due {
		cw.processIsolated(&due[i])
	}
}

func (cw *CadenceWorker) processIsolated(enrollment *models.Enrollment) {
	defer func() {
		if r := recover(); r != nil {
			utils.LogError("enrollment_panic", fmt.Errorf("panic processing enrollment: %v", r), map[string]interface{}{
				"enrollment_id": enrollment.ID,
				"cadence_id":    enrollment.CadenceID,
			})
		}
	}()

	if err := cw.processEnrollment(enrollment); err != nil {
		cw.Logger.Printf("Error processing enrollment %d: %v", enrollment.ID, err)
	}
}

func (cw *CadenceWorker) processEnrollment(enrollment *models.Enrollment) error {
	var step models.CadenceStep
	err := cw.DB.Where("cadence_id = ? AND step_order = ?", enrollment.CadenceID, enrollment.CurrentStep).
		First(&step).Error
	if err == gorm.ErrRecordNotFound {
		// Sequence exhausted
		return cw.complete(enrollment)
	}
	if err != nil {
		return fmt.Errorf("failed to load step %d: %w", enrollment.CurrentStep, err)
	}

	target, vars, err := cw.resolveTarget(enrollment)
	if err != nil {
		return err
	}

	if step.Skip != nil && cw.skipConditionMet(enrollment, &step, target) {
		cw.recordActivity(enrollment, "step_skipped",
			fmt.Sprintf("Step %d skipped (%s)", step.StepOrder, step.Skip.Kind))
		return cw.advance(enrollment)
	}

	body := utils.RenderTemplate(step.Template, vars)
	subject := utils.RenderTemplate(step.Subject, vars)

	// A step with no recipient address is a validation failure in the
	// dispatcher; compliance state is never consulted for it.
	hasAddress := (step.Channel == models.ChannelEmail && target.Email != "") ||
		(step.Channel == models.ChannelWhatsApp && target.Phone != "")

	if hasAddress {
		if cw.Guard.IsUnsubscribed(target.Email, target.Phone) {
			// The cadence keeps progressing past an unsubscribed
			// channel so manual/task steps still fire.
			cw.recordExecution(enrollment, &step, utils.DispatchResult{
				Status: models.ExecutionFailed,
				Error:  "Unsubscribed",
			})
			cw.recordActivity(enrollment, "step_blocked_unsubscribed",
				fmt.Sprintf("Step %d blocked: recipient unsubscribed", step.StepOrder))
			return cw.advance(enrollment)
		}

		if step.Channel == models.ChannelEmail {
			allowed, err := cw.Guard.CheckRateLimit(utils.EmailDomain(target.Email))
			if err != nil {
				return fmt.Errorf("rate limit check failed: %w", err)
			}
			if !allowed {
				// Non-terminal: same step retries after a fixed 1h
				// backoff, currentStep unchanged.
				return cw.reschedule(enrollment, time.Now().Add(time.Hour))
			}
		}
	}

	result := cw.Dispatcher.Dispatch(enrollment, &step, target, subject, body)
	cw.recordExecution(enrollment, &step, result)

	if result.Status == models.ExecutionFailed {
		cw.recordActivity(enrollment, "step_failed",
			fmt.Sprintf("Step %d (%s) failed: %s", step.StepOrder, step.Channel, result.Error))
		utils.Feed.Publish("step_failed", fmt.Sprintf("Enrollment %d step %d failed: %s", enrollment.ID, step.StepOrder, result.Error))
	} else {
		if step.Channel == models.ChannelEmail {
			if err := cw.Guard.RecordSend(target.Email, models.ChannelEmail); err != nil {
				cw.Logger.Printf("Failed to record send log for enrollment %d: %v", enrollment.ID, err)
			}
		}
		if target.LeadID != nil {
			if err := cw.Scorer.RecordEvent(*target.LeadID, models.ScoreEventSend, 0,
				fmt.Sprintf("channel=%s step=%d", step.Channel, step.StepOrder)); err != nil {
				cw.Logger.Printf("Failed to record send score event: %v", err)
			}
		}
		cw.recordActivity(enrollment, "step_sent",
			fmt.Sprintf("Step %d (%s) dispatched", step.StepOrder, step.Channel))
		utils.Feed.Publish("step_sent", fmt.Sprintf("Enrollment %d step %d (%s) dispatched", enrollment.ID, step.StepOrder, step.Channel))
	}

	// Failed dispatches advance too; retrying is expressed only by
	// the rate-limit reschedule above.
	return cw.advance(enrollment)
}

// resolveTarget loads the lead or contact behind the enrollment and
// builds the template variable set. Missing variables stay literal in
// the rendered text.
func (cw *CadenceWorker) resolveTarget(enrollment *models.Enrollment) (utils.DispatchTarget, map[string]string, error) {
	if enrollment.LeadID != nil {
		var lead models.Lead
		if err := cw.DB.First(&lead, *enrollment.LeadID).Error; err != nil {
			return utils.DispatchTarget{}, nil, fmt.Errorf("lead %d not found: %w", *enrollment.LeadID, err)
		}
		return utils.DispatchTarget{
			LeadID:  &lead.ID,
			OwnerID: enrollment.OwnerID,
			Name:    lead.FullName(),
			Email:   lead.Email,
			Phone:   lead.Phone,
		}, utils.LeadVars(&lead), nil
	}

	if enrollment.ContactID != nil {
		var contact models.Contact
		if err := cw.DB.First(&contact, *enrollment.ContactID).Error; err != nil {
			return utils.DispatchTarget{}, nil, fmt.Errorf("contact %d not found: %w", *enrollment.ContactID, err)
		}
		return utils.DispatchTarget{
			ContactID: &contact.ID,
			OwnerID:   enrollment.OwnerID,
			Name:      contact.FullName(),
			Email:     contact.Email,
			Phone:     contact.Phone,
		}, utils.ContactVars(&contact), nil
	}

	return utils.DispatchTarget{}, nil, fmt.Errorf("enrollment %d has neither lead nor contact", enrollment.ID)
}

func (cw *CadenceWorker) skipConditionMet(enrollment *models.Enrollment, step *models.CadenceStep, target utils.DispatchTarget) bool {
	switch step.Skip.Kind {
	case models.SkipLeadStatus:
		if target.LeadID == nil {
			return false
		}
		var lead models.Lead
		if err := cw.DB.First(&lead, *target.LeadID).Error; err != nil {
			return false
		}
		return string(lead.Status) == step.Skip.Status

	case models.SkipOpenedPrevious:
		var count int64
		cw.DB.Model(&models.StepExecution{}).
			Where("enrollment_id = ? AND opened_at IS NOT NULL", enrollment.ID).
			Count(&count)
		return count > 0

	case models.SkipHasDeal:
		q := cw.DB.Model(&models.Deal{})
		switch {
		case target.ContactID != nil:
			q = q.Where("contact_id = ?", *target.ContactID)
		case target.LeadID != nil:
			q = q.Where("lead_id = ?", *target.LeadID)
		default:
			return false
		}
		if step.Skip.Stage != "" {
			q = q.Where("stage = ?", step.Skip.Stage)
		}
		var count int64
		q.Count(&count)
		return count > 0
	}
	return false
}

func (cw *CadenceWorker) recordExecution(enrollment *models.Enrollment, step *models.CadenceStep, result utils.DispatchResult) {
	exec := models.StepExecution{
		EnrollmentID:  enrollment.ID,
		CadenceStepID: step.ID,
		Channel:       step.Channel,
		Status:        result.Status,
		Error:         result.Error,
		ExternalID:    result.ExternalID,
	}
	if result.Status != models.ExecutionFailed {
		exec.SentAt = utils.Pointer(time.Now())
	}
	if err := cw.DB.Create(&exec).Error; err != nil {
		cw.Logger.Printf("Failed to record step execution for enrollment %d: %v", enrollment.ID, err)
	}
}

// advance moves to the next step, or completes when the sequence is
// exhausted. The update is guarded on status so a reply or bounce that
// closed the enrollment mid-processing wins.
func (cw *CadenceWorker) advance(enrollment *models.Enrollment) error {
	nextOrder := enrollment.CurrentStep + 1

	var next models.CadenceStep
	err := cw.DB.Where("cadence_id = ? AND step_order = ?", enrollment.CadenceID, nextOrder).
		First(&next).Error
	if err == gorm.ErrRecordNotFound {
		return cw.complete(enrollment)
	}
	if err != nil {
		return fmt.Errorf("failed to load next step: %w", err)
	}

	now := time.Now()
	res := cw.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"current_step":  nextOrder,
			"next_step_due": now.Add(next.Delay()),
			"last_step_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		cw.Logger.Printf("Enrollment %d left active state mid-tick; not advancing", enrollment.ID)
	}
	return nil
}

// complete finishes the enrollment and bumps the cadence counter
// exactly once, guarded by the status condition.
func (cw *CadenceWorker) complete(enrollment *models.Enrollment) error {
	now := time.Now()
	res := cw.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentActive).
		Updates(map[string]interface{}{
			"status":        models.EnrollmentCompleted,
			"next_step_due": nil,
			"completed_at":  now,
			"last_step_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if err := cw.DB.Model(&models.Cadence{}).Where("id = ?", enrollment.CadenceID).
		Update("total_completed", gorm.Expr("total_completed + ?", 1)).Error; err != nil {
		return fmt.Errorf("failed to bump total_completed: %w", err)
	}

	cw.recordActivity(enrollment, "enrollment_completed", "Cadence sequence completed")
	utils.Feed.Publish("enrollment_completed", fmt.Sprintf("Enrollment %d completed", enrollment.ID))
	return nil
}

// reschedule pushes the same step out without advancing.
func (cw *CadenceWorker) reschedule(enrollment *models.Enrollment, due time.Time) error {
	res := cw.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentActive).
		Update("next_step_due", due)
	if res.Error != nil {
		return res.Error
	}
	cw.recordActivity(enrollment, "step_rate_limited",
		fmt.Sprintf("Step %d rate limited, retrying at %s", enrollment.CurrentStep, due.Format(time.RFC3339)))
	return nil
}

func (cw *CadenceWorker) recordActivity(enrollment *models.Enrollment, activityType, details string) {
	activity := models.LeadActivity{
		LeadID:       enrollment.LeadID,
		ContactID:    enrollment.ContactID,
		EnrollmentID: &enrollment.ID,
		ActivityType: activityType,
		ActivityAt:   time.Now(),
		Details:      details,
	}
	if err := cw.DB.Create(&activity).Error; err != nil {
		cw.Logger.Printf("Failed to record activity %s: %v", activityType, err)
	}
}
