package models

import (
	"time"

	"gorm.io/gorm"
)

// TaskPriority for manual follow-up tasks
type TaskPriority string

const (
	TaskLow    TaskPriority = "low"
	TaskMedium TaskPriority = "medium"
	TaskHigh   TaskPriority = "high"
)

// Task is a manual follow-up assigned to an owner, created by manual
// cadence steps (call/task/linkedin_manual) and by reply classification.
type Task struct {
	gorm.Model
	OwnerID   uint  `gorm:"not null;index" json:"owner_id"`
	LeadID    *uint `gorm:"index" json:"lead_id,omitempty"`
	ContactID *uint `gorm:"index" json:"contact_id,omitempty"`

	Title       string       `gorm:"not null" json:"title"`
	Description string       `gorm:"type:text" json:"description"`
	Priority    TaskPriority `gorm:"default:'medium'" json:"priority"`
	Status      string       `gorm:"default:'open'" json:"status"` // open, done, canceled
	DueDate     *time.Time   `json:"due_date"`
}

// DealStage is the pipeline stage of a deal
type DealStage string

const (
	StageLead            DealStage = "lead"
	StageContatoFeito    DealStage = "contato_feito"
	StagePropostaEnviada DealStage = "proposta_enviada"
	StageNegociacao      DealStage = "negociacao"
	StageGanho           DealStage = "ganho"
	StagePerdido         DealStage = "perdido"
)

// Deal is an opportunity in the pipeline
type Deal struct {
	gorm.Model
	OwnerID        uint  `gorm:"not null;index" json:"owner_id"`
	LeadID         *uint `gorm:"index" json:"lead_id,omitempty"`
	ContactID      *uint `gorm:"index" json:"contact_id,omitempty"`
	OrganizationID *uint `gorm:"index" json:"organization_id,omitempty"`

	Title  string    `gorm:"not null" json:"title"`
	Stage  DealStage `gorm:"default:'lead';index" json:"stage"`
	Amount float64   `gorm:"default:0" json:"amount"`
}

// User is the owner identity tasks and enrollments are assigned to.
// Authentication itself lives outside this service; the Protected
// middleware only verifies tokens and resolves this row.
type User struct {
	gorm.Model
	Name     string `json:"name"`
	Email    string `gorm:"uniqueIndex" json:"email"`
	IsActive bool   `gorm:"default:true" json:"is_active"`
}
