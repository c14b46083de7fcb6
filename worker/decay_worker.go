package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"salesloop/models"
	"salesloop/utils"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DecayWorker runs a daily cron job that recomputes scores for leads
// with no recent interaction, so decay shows up without waiting for
// the next engagement event. The decay amount itself is derived inside
// the scorer from interaction staleness; the worker only triggers the
// recompute and leaves an audit entry.
type DecayWorker struct {
	DB     *gorm.DB
	Scorer *utils.LeadScorer
	Logger *log.Logger

	cron *cron.Cron
}

func NewDecayWorker(db *gorm.DB, scorer *utils.LeadScorer, logger *log.Logger) *DecayWorker {
	return &DecayWorker{
		DB:     db,
		Scorer: scorer,
		Logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the daily pass and blocks until the context is
// canceled.
func (dw *DecayWorker) Start(ctx context.Context) {
	if _, err := dw.cron.AddFunc("@daily", dw.RunDecayPass); err != nil {
		dw.Logger.Printf("Failed to schedule decay job: %v", err)
		return
	}
	dw.cron.Start()
	dw.Logger.Println("Decay worker started")

	<-ctx.Done()
	dw.Logger.Println("Decay worker shutting down...")
	stopCtx := dw.cron.Stop()
	<-stopCtx.Done()
}

// RunDecayPass recomputes every lead whose score is based on an
// interaction more than a day old.
func (dw *DecayWorker) RunDecayPass() {
	cutoff := time.Now().Add(-24 * time.Hour)

	var staleIDs []uint
	if err := dw.DB.Model(&models.LeadScore{}).
		Where("last_interaction_at IS NULL OR last_interaction_at < ?", cutoff).
		Pluck("lead_id", &staleIDs).Error; err != nil {
		dw.Logger.Printf("Failed to load stale lead scores: %v", err)
		return
	}

	// Leads that never earned a score row still decay; their staleness
	// anchor is the creation date.
	var unscoredIDs []uint
	if err := dw.DB.Model(&models.Lead{}).
		Where("created_at < ? AND id NOT IN (?)", cutoff,
			dw.DB.Model(&models.LeadScore{}).Select("lead_id")).
		Pluck("id", &unscoredIDs).Error; err != nil {
		dw.Logger.Printf("Failed to load unscored leads: %v", err)
		return
	}

	staleIDs = append(staleIDs, unscoredIDs...)
	if len(staleIDs) == 0 {
		return
	}

	dw.Logger.Printf("Running decay pass over %d leads", len(staleIDs))
	for _, leadID := range staleIDs {
		if err := dw.Scorer.RecordEvent(leadID, models.ScoreEventDecay, -2,
			fmt.Sprintf("daily decay pass, last interaction before %s", cutoff.Format(time.RFC3339))); err != nil {
			dw.Logger.Printf("Decay recompute failed for lead %d: %v", leadID, err)
		}
	}
}
