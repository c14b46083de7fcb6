package utils

import (
	"strings"
	"testing"

	"salesloop/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDispatcher(db *gorm.DB) *Dispatcher {
	return NewDispatcher(db, testLogger(),
		NewSimulatedMailer(db, testLogger()),
		NewSimulatedChat(db, testLogger()),
		"http://localhost:5000", "test-secret")
}

func TestDispatchEmail(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(db)

	enrollment := &models.Enrollment{CadenceID: 1, OwnerID: 1}
	step := &models.CadenceStep{Channel: models.ChannelEmail}
	target := DispatchTarget{OwnerID: 1, Name: "Ana Silva", Email: "ana@acme.com"}

	result := d.Dispatch(enrollment, step, target, "Olá Ana", `<p>Veja <a href="https://example.com">aqui</a></p>`)

	assert.Equal(t, models.ExecutionSent, result.Status)
	require.NotEmpty(t, result.ExternalID)

	var artifact models.OutboundMessage
	require.NoError(t, db.Where("message_id = ?", result.ExternalID).First(&artifact).Error)
	assert.True(t, artifact.Simulated)
	assert.Equal(t, "ana@acme.com", artifact.To)
	assert.Contains(t, artifact.Body, "/track/open/"+result.ExternalID+"/", "pixel embeds the execution's external id")
	assert.Contains(t, artifact.Body, "/track/click/"+result.ExternalID+"/", "click links embed the execution's external id")
	assert.Contains(t, artifact.Body, "/unsubscribe/")
	assert.NotContains(t, artifact.Body, `href="https://example.com"`, "original link rewritten")
}

func TestDispatchEmailValidation(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(db)

	enrollment := &models.Enrollment{CadenceID: 1, OwnerID: 1}
	step := &models.CadenceStep{Channel: models.ChannelEmail}

	result := d.Dispatch(enrollment, step, DispatchTarget{OwnerID: 1}, "s", "b")
	assert.Equal(t, models.ExecutionFailed, result.Status)
	assert.Contains(t, result.Error, "no email address")

	result = d.Dispatch(enrollment, step, DispatchTarget{OwnerID: 1, Email: "not-an-email"}, "s", "b")
	assert.Equal(t, models.ExecutionFailed, result.Status)
	assert.Contains(t, result.Error, "invalid email address")
}

func TestDispatchWhatsApp(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(db)

	enrollment := &models.Enrollment{CadenceID: 1, OwnerID: 1}
	step := &models.CadenceStep{Channel: models.ChannelWhatsApp}

	result := d.Dispatch(enrollment, step, DispatchTarget{OwnerID: 1, Phone: "+5511987654321"}, "", "Oi Ana")
	assert.Equal(t, models.ExecutionSent, result.Status)
	assert.NotEmpty(t, result.ExternalID)

	result = d.Dispatch(enrollment, step, DispatchTarget{OwnerID: 1}, "", "Oi")
	assert.Equal(t, models.ExecutionFailed, result.Status)
	assert.Contains(t, result.Error, "no phone number")
}

func TestDispatchManualChannels(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(db)

	leadID := uint(42)
	enrollment := &models.Enrollment{CadenceID: 1, OwnerID: 9}
	target := DispatchTarget{LeadID: &leadID, OwnerID: 9, Name: "Ana Silva"}

	tests := []struct {
		channel     models.Channel
		titlePrefix string
		priority    models.TaskPriority
	}{
		{models.ChannelCall, "Ligar para", models.TaskHigh},
		{models.ChannelTask, "Tarefa:", models.TaskMedium},
		{models.ChannelLinkedInManual, "LinkedIn:", models.TaskMedium},
	}

	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			step := &models.CadenceStep{Channel: tt.channel}
			result := d.Dispatch(enrollment, step, target, "", "detalhes do followup")
			assert.Equal(t, models.ExecutionSent, result.Status)
			assert.Empty(t, result.ExternalID, "manual channels have no provider id")

			var task models.Task
			require.NoError(t, db.Where("title LIKE ?", tt.titlePrefix+"%").First(&task).Error)
			assert.True(t, strings.HasSuffix(task.Title, "Ana Silva"))
			assert.Equal(t, tt.priority, task.Priority)
			assert.EqualValues(t, 9, task.OwnerID)
			require.NotNil(t, task.LeadID)
			assert.EqualValues(t, 42, *task.LeadID)
		})
	}
}
