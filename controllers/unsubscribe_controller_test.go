package controller

import (
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

func newUnsubscribeApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	config.AppConfig.TrackingSecret = "unsub-test-secret"

	uc := NewUnsubscribeController(db, testLogger())

	app := fiber.New()
	app.Get("/unsubscribe/:token", uc.ShowUnsubscribePage)
	app.Post("/unsubscribe/:token", uc.ConfirmUnsubscribe)
	return app, db
}

func TestUnsubscribeRequiresPost(t *testing.T) {
	app, db := newUnsubscribeApp(t)

	token := utils.UnsubscribeToken(config.AppConfig.TrackingSecret, "joao@corp.com")

	// The GET is a confirmation page only; mail scanners prefetching
	// the link must not opt anyone out.
	resp, err := app.Test(httptest.NewRequest("GET", "/unsubscribe/"+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var entries int64
	db.Model(&models.UnsubscribeEntry{}).Count(&entries)
	assert.EqualValues(t, 0, entries)

	resp, err = app.Test(httptest.NewRequest("POST", "/unsubscribe/"+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var entry models.UnsubscribeEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "joao@corp.com", entry.Email)
	assert.Equal(t, "link", entry.Source)
}

func TestUnsubscribeClosesActiveEnrollments(t *testing.T) {
	app, db := newUnsubscribeApp(t)

	lead := models.Lead{OwnerID: 1, FirstName: "João", Email: "joao@corp.com"}
	require.NoError(t, db.Create(&lead).Error)
	cadence := models.Cadence{UserID: 1, Name: "U", Status: models.CadenceActive}
	require.NoError(t, db.Create(&cadence).Error)

	active := models.Enrollment{
		CadenceID: cadence.ID, LeadID: &lead.ID, OwnerID: 1,
		Status: models.EnrollmentActive, CurrentStep: 1,
		NextStepDue: utils.Pointer(time.Now().Add(time.Hour)),
		StartedAt:   time.Now(),
	}
	require.NoError(t, db.Create(&active).Error)
	replied := models.Enrollment{
		CadenceID: cadence.ID, LeadID: &lead.ID, OwnerID: 1,
		Status: models.EnrollmentReplied, CurrentStep: 2,
		StartedAt: time.Now(),
	}
	require.NoError(t, db.Create(&replied).Error)

	token := utils.UnsubscribeToken(config.AppConfig.TrackingSecret, "joao@corp.com")
	resp, err := app.Test(httptest.NewRequest("POST", "/unsubscribe/"+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var e models.Enrollment
	require.NoError(t, db.First(&e, active.ID).Error)
	assert.Equal(t, models.EnrollmentUnsubscribed, e.Status)
	assert.Nil(t, e.NextStepDue)
	assert.NotNil(t, e.CompletedAt)

	e = models.Enrollment{}
	require.NoError(t, db.First(&e, replied.ID).Error)
	assert.Equal(t, models.EnrollmentReplied, e.Status, "terminal enrollments are left alone")

	// Repeat POSTs are idempotent
	resp, err = app.Test(httptest.NewRequest("POST", "/unsubscribe/"+token, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var entries int64
	db.Model(&models.UnsubscribeEntry{}).Count(&entries)
	assert.EqualValues(t, 1, entries)
}

func TestUnsubscribeRejectsForgedToken(t *testing.T) {
	app, db := newUnsubscribeApp(t)

	forged := utils.UnsubscribeToken("other-secret", "joao@corp.com")
	resp, err := app.Test(httptest.NewRequest("POST", "/unsubscribe/"+forged, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var entries int64
	db.Model(&models.UnsubscribeEntry{}).Count(&entries)
	assert.EqualValues(t, 0, entries)
}
