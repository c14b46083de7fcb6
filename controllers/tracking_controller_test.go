package controller

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"salesloop/config"
	"salesloop/models"
	"salesloop/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTrackingApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	config.AppConfig.TrackingSecret = "tracking-test-secret"

	tc := NewTrackingController(db, testLogger(), utils.NewLeadScorer(db, testLogger()))

	app := fiber.New()
	app.Get("/track/open/:messageID/:token", tc.HandleOpenTracking)
	app.Get("/track/click/:messageID/:token", tc.HandleClickTracking)
	return app, db
}

func seedSentExecution(t *testing.T, db *gorm.DB, messageID string) (models.Lead, models.StepExecution) {
	t.Helper()

	lead := models.Lead{OwnerID: 1, FirstName: "Iza", Email: "iza@corp.com", Source: "website"}
	require.NoError(t, db.Create(&lead).Error)
	cadence := models.Cadence{UserID: 1, Name: "T", Status: models.CadenceActive}
	require.NoError(t, db.Create(&cadence).Error)
	enrollment := models.Enrollment{
		CadenceID: cadence.ID, LeadID: &lead.ID, OwnerID: 1,
		Status: models.EnrollmentActive, CurrentStep: 2,
		NextStepDue: utils.Pointer(time.Now().Add(time.Hour)),
		StartedAt:   time.Now(),
	}
	require.NoError(t, db.Create(&enrollment).Error)
	exec := models.StepExecution{
		EnrollmentID: enrollment.ID, CadenceStepID: 1, Channel: models.ChannelEmail,
		Status: models.ExecutionSent, ExternalID: messageID,
		SentAt: utils.Pointer(time.Now()),
	}
	require.NoError(t, db.Create(&exec).Error)
	return lead, exec
}

func TestOpenTrackingIsIdempotent(t *testing.T) {
	app, db := newTrackingApp(t)
	lead, exec := seedSentExecution(t, db, "msg-open-1")

	token := utils.TrackingToken(config.AppConfig.TrackingSecret, "msg-open-1")
	url := fmt.Sprintf("/track/open/%s/%s", "msg-open-1", token)

	resp, err := app.Test(httptest.NewRequest("GET", url, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))

	var e models.StepExecution
	require.NoError(t, db.First(&e, exec.ID).Error)
	assert.Equal(t, models.ExecutionOpened, e.Status)
	require.NotNil(t, e.OpenedAt)
	firstOpen := *e.OpenedAt

	// Second hit changes nothing and scores nothing extra
	resp, err = app.Test(httptest.NewRequest("GET", url, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NoError(t, db.First(&e, exec.ID).Error)
	assert.True(t, e.OpenedAt.Equal(firstOpen))

	var openEvents int64
	db.Model(&models.LeadScoreEvent{}).
		Where("lead_id = ? AND event_type = ?", lead.ID, models.ScoreEventOpen).
		Count(&openEvents)
	assert.EqualValues(t, 1, openEvents)
}

func TestOpenTrackingRejectsForgedToken(t *testing.T) {
	app, db := newTrackingApp(t)
	seedSentExecution(t, db, "msg-open-2")

	forged := utils.TrackingToken("wrong-secret", "msg-open-2")
	resp, err := app.Test(httptest.NewRequest("GET", "/track/open/msg-open-2/"+forged, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var e models.StepExecution
	require.NoError(t, db.Where("external_id = ?", "msg-open-2").First(&e).Error)
	assert.Nil(t, e.OpenedAt)
}

func TestOpenTrackingUnknownMessageStillServesPixel(t *testing.T) {
	app, _ := newTrackingApp(t)

	token := utils.TrackingToken(config.AppConfig.TrackingSecret, "ghost")
	resp, err := app.Test(httptest.NewRequest("GET", "/track/open/ghost/"+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
}

func TestClickTrackingRedirectsAndScores(t *testing.T) {
	app, db := newTrackingApp(t)
	lead, exec := seedSentExecution(t, db, "msg-click-1")

	token := utils.TrackingToken(config.AppConfig.TrackingSecret, "msg-click-1")
	url := fmt.Sprintf("/track/click/%s/%s?url=%s", "msg-click-1", token, "https%3A%2F%2Fexample.com%2Fpricing")

	resp, err := app.Test(httptest.NewRequest("GET", url, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.com/pricing", resp.Header.Get("Location"))

	var e models.StepExecution
	require.NoError(t, db.First(&e, exec.ID).Error)
	assert.NotNil(t, e.OpenedAt, "a click implies an open")
	assert.Equal(t, models.ExecutionOpened, e.Status)

	require.NotNil(t, e.ClickedAt)
	firstClick := *e.ClickedAt

	// Repeat clicks redirect but don't re-score
	resp, err = app.Test(httptest.NewRequest("GET", url, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusFound, resp.StatusCode)

	require.NoError(t, db.First(&e, exec.ID).Error)
	assert.True(t, e.ClickedAt.Equal(firstClick))

	var clickEvents int64
	db.Model(&models.LeadScoreEvent{}).
		Where("lead_id = ? AND event_type = ?", lead.ID, models.ScoreEventClick).
		Count(&clickEvents)
	assert.EqualValues(t, 1, clickEvents)
}

func TestClickTrackingRequiresURL(t *testing.T) {
	app, db := newTrackingApp(t)
	seedSentExecution(t, db, "msg-click-2")

	token := utils.TrackingToken(config.AppConfig.TrackingSecret, "msg-click-2")
	resp, err := app.Test(httptest.NewRequest("GET", "/track/click/msg-click-2/"+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
