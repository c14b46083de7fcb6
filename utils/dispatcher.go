package utils

import (
	"fmt"
	"log"
	"time"

	"salesloop/models"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DispatchTarget is the resolved recipient of a step: either a lead or
// a contact, flattened to what the channels need.
type DispatchTarget struct {
	LeadID    *uint
	ContactID *uint
	OwnerID   uint
	Name      string
	Email     string
	Phone     string
}

// DispatchResult is what the scheduler records as a StepExecution.
type DispatchResult struct {
	Status     models.ExecutionStatus
	ExternalID string
	Error      string
}

func failedResult(format string, args ...interface{}) DispatchResult {
	return DispatchResult{
		Status: models.ExecutionFailed,
		Error:  fmt.Sprintf(format, args...),
	}
}

// Dispatcher turns a step plus rendered template into a
// channel-specific send. email/whatsapp go through a transport (real
// or simulated, the constructor decides); call/task/linkedin_manual
// always materialize a manual follow-up task for the owner.
type Dispatcher struct {
	DB     *gorm.DB
	Logger *log.Logger
	Email  EmailTransport
	Chat   ChatTransport

	BaseURL        string
	TrackingSecret string
}

func NewDispatcher(db *gorm.DB, logger *log.Logger, email EmailTransport, chat ChatTransport, baseURL, trackingSecret string) *Dispatcher {
	return &Dispatcher{
		DB:             db,
		Logger:         logger,
		Email:          email,
		Chat:           chat,
		BaseURL:        baseURL,
		TrackingSecret: trackingSecret,
	}
}

// Dispatch executes one step. A missing recipient address fails
// immediately without consulting compliance or transport; compliance
// itself is the scheduler's responsibility and has already been
// checked by the time Dispatch runs.
func (d *Dispatcher) Dispatch(enrollment *models.Enrollment, step *models.CadenceStep, target DispatchTarget, subject, body string) DispatchResult {
	switch step.Channel {
	case models.ChannelEmail:
		return d.dispatchEmail(target, subject, body)
	case models.ChannelWhatsApp:
		return d.dispatchWhatsApp(target, body)
	case models.ChannelCall:
		return d.dispatchManualTask(enrollment, target, "Ligar para "+target.Name, body, models.TaskHigh)
	case models.ChannelTask:
		return d.dispatchManualTask(enrollment, target, "Tarefa: "+target.Name, body, models.TaskMedium)
	case models.ChannelLinkedInManual:
		return d.dispatchManualTask(enrollment, target, "LinkedIn: "+target.Name, body, models.TaskMedium)
	}
	return failedResult("unknown channel %q", step.Channel)
}

func (d *Dispatcher) dispatchEmail(target DispatchTarget, subject, body string) DispatchResult {
	if target.Email == "" {
		return failedResult("no email address on target record")
	}
	if err := checkmail.ValidateFormat(target.Email); err != nil {
		return failedResult("invalid email address %q: %v", target.Email, err)
	}

	// The message id is generated here, before tracking injection, so
	// the pixel and click links embed the same id the execution row
	// stores as its external id.
	messageID := uuid.New().String()
	tracked := InjectTracking(body, d.BaseURL, d.TrackingSecret, messageID)
	tracked = AppendUnsubscribeFooter(tracked, d.BaseURL, d.TrackingSecret, target.Email)

	if err := d.Email.SendEmail(messageID, target.Email, subject, tracked); err != nil {
		return failedResult("email send failed: %v", err)
	}
	return DispatchResult{Status: models.ExecutionSent, ExternalID: messageID}
}

func (d *Dispatcher) dispatchWhatsApp(target DispatchTarget, body string) DispatchResult {
	if target.Phone == "" {
		return failedResult("no phone number on target record")
	}

	externalID, err := d.Chat.SendText(target.Phone, body)
	if err != nil {
		return failedResult("whatsapp send failed: %v", err)
	}
	return DispatchResult{Status: models.ExecutionSent, ExternalID: externalID}
}

func (d *Dispatcher) dispatchManualTask(enrollment *models.Enrollment, target DispatchTarget, title, description string, priority models.TaskPriority) DispatchResult {
	task := models.Task{
		OwnerID:     target.OwnerID,
		LeadID:      target.LeadID,
		ContactID:   target.ContactID,
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     Pointer(time.Now()),
	}
	if err := d.DB.Create(&task).Error; err != nil {
		return failedResult("failed to create task: %v", err)
	}
	return DispatchResult{Status: models.ExecutionSent}
}
