package worker

import (
	"io"
	"log"
	"testing"
	"time"

	"salesloop/models"
	"salesloop/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	return db
}

func newTestWorker(t *testing.T) (*CadenceWorker, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	discard := log.New(io.Discard, "", 0)

	guard := utils.NewComplianceGuard(db, discard)
	scorer := utils.NewLeadScorer(db, discard)
	dispatcher := utils.NewDispatcher(db, discard,
		utils.NewSimulatedMailer(db, discard),
		utils.NewSimulatedChat(db, discard),
		"http://localhost:5000", "test-secret")

	return NewCadenceWorker(db, guard, dispatcher, scorer, discard), db
}

type fixture struct {
	lead       models.Lead
	cadence    models.Cadence
	enrollment models.Enrollment
}

// seedEnrollment creates a lead enrolled in a two-step email cadence
// with the first step due now.
func seedEnrollment(t *testing.T, db *gorm.DB) fixture {
	t.Helper()

	lead := models.Lead{
		OwnerID:   1,
		FirstName: "Ana",
		LastName:  "Silva",
		Email:     "ana@acme.com",
		Phone:     "+55 11 98765-4321",
		Company:   "Acme",
	}
	require.NoError(t, db.Create(&lead).Error)

	cadence := models.Cadence{UserID: 1, Name: "Outbound Q3", Status: models.CadenceActive}
	require.NoError(t, db.Create(&cadence).Error)

	steps := []models.CadenceStep{
		{CadenceID: cadence.ID, StepOrder: 1, Channel: models.ChannelEmail,
			Subject: "Oi {first_name}", Template: "<p>Olá {first_name} da {company}</p>"},
		{CadenceID: cadence.ID, StepOrder: 2, Channel: models.ChannelEmail,
			DelayDays: 2, Subject: "Follow-up", Template: "<p>Ainda aí, {first_name}?</p>"},
	}
	for i := range steps {
		require.NoError(t, db.Create(&steps[i]).Error)
	}

	enrollment := models.Enrollment{
		CadenceID:   cadence.ID,
		LeadID:      &lead.ID,
		OwnerID:     1,
		Status:      models.EnrollmentActive,
		CurrentStep: 1,
		NextStepDue: utils.Pointer(time.Now().Add(-time.Minute)),
		StartedAt:   time.Now(),
	}
	require.NoError(t, db.Create(&enrollment).Error)

	return fixture{lead: lead, cadence: cadence, enrollment: enrollment}
}

func TestProcessDueEnrollmentsAdvances(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	before := time.Now()
	cw.ProcessDueEnrollments()

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentActive, e.Status)
	assert.Equal(t, 2, e.CurrentStep)
	require.NotNil(t, e.NextStepDue, "active enrollment always has a due timestamp")
	assert.WithinDuration(t, before.Add(48*time.Hour), *e.NextStepDue, time.Minute,
		"next due is now plus the next step's delay")
	assert.NotNil(t, e.LastStepAt)

	var exec models.StepExecution
	require.NoError(t, db.Where("enrollment_id = ?", e.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionSent, exec.Status)
	assert.NotEmpty(t, exec.ExternalID)
	assert.NotNil(t, exec.SentAt)

	// Template was rendered for the lead
	var artifact models.OutboundMessage
	require.NoError(t, db.Where("message_id = ?", exec.ExternalID).First(&artifact).Error)
	assert.Contains(t, artifact.Body, "Olá Ana da Acme")
	assert.Equal(t, "Oi Ana", artifact.Subject)

	// Send was logged for rate limiting and the send event scored
	var sends int64
	db.Model(&models.SendLog{}).Where("domain = ?", "acme.com").Count(&sends)
	assert.EqualValues(t, 1, sends)
}

func TestProcessDueEnrollmentsCompletes(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	// Move the enrollment past the last step
	require.NoError(t, db.Model(&models.Enrollment{}).Where("id = ?", f.enrollment.ID).
		Update("current_step", 3).Error)

	cw.ProcessDueEnrollments()

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentCompleted, e.Status)
	assert.Nil(t, e.NextStepDue)
	assert.NotNil(t, e.CompletedAt)

	var cadence models.Cadence
	require.NoError(t, db.First(&cadence, f.cadence.ID).Error)
	assert.Equal(t, 1, cadence.TotalCompleted)

	// A second tick must not double-count
	cw.ProcessDueEnrollments()
	require.NoError(t, db.First(&cadence, f.cadence.ID).Error)
	assert.Equal(t, 1, cadence.TotalCompleted)
}

func TestProcessDueEnrollmentsRateLimited(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	// Exhaust the hourly per-domain budget
	cfg, err := cw.Guard.Config()
	require.NoError(t, err)
	cfg.MaxEmailsPerHourPerDomain = 1
	require.NoError(t, db.Save(&cfg).Error)
	require.NoError(t, cw.Guard.RecordSend("other@acme.com", models.ChannelEmail))

	before := time.Now()
	cw.ProcessDueEnrollments()

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentActive, e.Status)
	assert.Equal(t, 1, e.CurrentStep, "rate limit does not advance the step")
	require.NotNil(t, e.NextStepDue)
	assert.WithinDuration(t, before.Add(time.Hour), *e.NextStepDue, time.Minute)

	var execs int64
	db.Model(&models.StepExecution{}).Where("enrollment_id = ?", e.ID).Count(&execs)
	assert.EqualValues(t, 0, execs, "no execution is recorded for a deferred step")
}

func TestProcessDueEnrollmentsUnsubscribed(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	require.NoError(t, db.Create(&models.UnsubscribeEntry{
		Email:  "ana@acme.com",
		Source: "link",
	}).Error)

	cw.ProcessDueEnrollments()

	var exec models.StepExecution
	require.NoError(t, db.Where("enrollment_id = ?", f.enrollment.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, "Unsubscribed", exec.Error)
	assert.Nil(t, exec.SentAt)

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, 2, e.CurrentStep, "cadence keeps progressing past the blocked channel")
	assert.Equal(t, models.EnrollmentActive, e.Status)

	var sent int64
	db.Model(&models.OutboundMessage{}).Count(&sent)
	assert.EqualValues(t, 0, sent, "nothing was dispatched")
}

func TestProcessDueEnrollmentsSkipCondition(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", f.lead.ID).
		Update("status", models.LeadQualified).Error)
	require.NoError(t, db.Model(&models.CadenceStep{}).
		Where("cadence_id = ? AND step_order = ?", f.cadence.ID, 1).
		Updates(models.CadenceStep{Skip: &models.SkipCondition{Kind: models.SkipLeadStatus, Status: "qualified"}}).Error)

	cw.ProcessDueEnrollments()

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, 2, e.CurrentStep)

	var execs int64
	db.Model(&models.StepExecution{}).Where("enrollment_id = ?", e.ID).Count(&execs)
	assert.EqualValues(t, 0, execs, "skipped steps record no execution")

	var activity models.LeadActivity
	require.NoError(t, db.Where("activity_type = ?", "step_skipped").First(&activity).Error)
	assert.Contains(t, activity.Details, "lead_status")
}

func TestProcessDueEnrollmentsIgnoresNotDue(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	require.NoError(t, db.Model(&models.Enrollment{}).Where("id = ?", f.enrollment.ID).
		Update("next_step_due", time.Now().Add(time.Hour)).Error)

	cw.ProcessDueEnrollments()

	var execs int64
	db.Model(&models.StepExecution{}).Count(&execs)
	assert.EqualValues(t, 0, execs)

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, 1, e.CurrentStep)
}

func TestProcessDueEnrollmentsIgnoresPaused(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	require.NoError(t, db.Model(&models.Enrollment{}).Where("id = ?", f.enrollment.ID).
		Updates(map[string]interface{}{
			"status":        models.EnrollmentPaused,
			"next_step_due": nil,
		}).Error)

	cw.ProcessDueEnrollments()

	var execs int64
	db.Model(&models.StepExecution{}).Count(&execs)
	assert.EqualValues(t, 0, execs)

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, models.EnrollmentPaused, e.Status)
}

func TestMissingAddressSkipsComplianceChecks(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	// Exhausted daily cap must not matter for a step that can never
	// send in the first place.
	cfg, err := cw.Guard.Config()
	require.NoError(t, err)
	cfg.MaxEmailsPerDay = 1
	require.NoError(t, db.Save(&cfg).Error)
	require.NoError(t, cw.Guard.RecordSend("other@elsewhere.com", models.ChannelEmail))

	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", f.lead.ID).
		Update("email", "").Error)

	cw.ProcessDueEnrollments()

	var exec models.StepExecution
	require.NoError(t, db.Where("enrollment_id = ?", f.enrollment.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "no email address")

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, 2, e.CurrentStep, "the failed step is not deferred behind the rate limit")
	assert.Equal(t, models.EnrollmentActive, e.Status)
}

func TestDispatchFailureStillAdvances(t *testing.T) {
	cw, db := newTestWorker(t)
	f := seedEnrollment(t, db)

	// Strip the email so dispatch fails
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", f.lead.ID).
		Update("email", "").Error)

	cw.ProcessDueEnrollments()

	var exec models.StepExecution
	require.NoError(t, db.Where("enrollment_id = ?", f.enrollment.ID).First(&exec).Error)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "no email address")

	var e models.Enrollment
	require.NoError(t, db.First(&e, f.enrollment.ID).Error)
	assert.Equal(t, 2, e.CurrentStep)
	assert.Equal(t, models.EnrollmentActive, e.Status)
}
