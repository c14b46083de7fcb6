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
)

func TestRunDecayPassRecomputesStaleLeads(t *testing.T) {
	db := newTestDB(t)
	discard := log.New(io.Discard, "", 0)
	scorer := utils.NewLeadScorer(db, discard)
	dw := NewDecayWorker(db, scorer, discard)

	stale := models.Lead{OwnerID: 1, FirstName: "Bruno", Email: "bruno@stale.com", Source: "website"}
	require.NoError(t, db.Create(&stale).Error)
	// Backdate creation so the fallback staleness anchor is old
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", stale.ID).
		Update("created_at", time.Now().Add(-73*time.Hour)).Error)

	fresh := models.Lead{OwnerID: 1, FirstName: "Carla", Email: "carla@fresh.com", Source: "website"}
	require.NoError(t, db.Create(&fresh).Error)

	_, err := scorer.Recalculate(stale.ID)
	require.NoError(t, err)
	require.NoError(t, scorer.RecordEvent(fresh.ID, models.ScoreEventOpen, 5, "opened"))

	dw.RunDecayPass()

	var staleScore models.LeadScore
	require.NoError(t, db.Where("lead_id = ?", stale.ID).First(&staleScore).Error)
	// website source 10, minus 2/day for three stale days
	assert.Equal(t, 4, staleScore.NumericScore)

	var decayEvents int64
	db.Model(&models.LeadScoreEvent{}).
		Where("lead_id = ? AND event_type = ?", stale.ID, models.ScoreEventDecay).
		Count(&decayEvents)
	assert.EqualValues(t, 1, decayEvents)

	// The fresh lead interacted within the window and is untouched
	db.Model(&models.LeadScoreEvent{}).
		Where("lead_id = ? AND event_type = ?", fresh.ID, models.ScoreEventDecay).
		Count(&decayEvents)
	assert.EqualValues(t, 0, decayEvents)
}

func TestRunDecayPassSeedsUnscoredLeads(t *testing.T) {
	db := newTestDB(t)
	discard := log.New(io.Discard, "", 0)
	scorer := utils.NewLeadScorer(db, discard)
	dw := NewDecayWorker(db, scorer, discard)

	// Never scored: no LeadScore row exists yet
	lead := models.Lead{OwnerID: 1, FirstName: "Noa", Email: "noa@quiet.com", Source: "website"}
	require.NoError(t, db.Create(&lead).Error)
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", lead.ID).
		Update("created_at", time.Now().Add(-73*time.Hour)).Error)

	recent := models.Lead{OwnerID: 1, FirstName: "Lia", Email: "lia@new.com", Source: "website"}
	require.NoError(t, db.Create(&recent).Error)

	dw.RunDecayPass()

	var score models.LeadScore
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&score).Error)
	assert.Equal(t, 4, score.NumericScore) // website 10 minus three days of decay

	var count int64
	db.Model(&models.LeadScore{}).Where("lead_id = ?", recent.ID).Count(&count)
	assert.EqualValues(t, 0, count, "leads created within the window are not touched")
}

func TestRunDecayPassDoesNotResetStaleness(t *testing.T) {
	db := newTestDB(t)
	discard := log.New(io.Discard, "", 0)
	scorer := utils.NewLeadScorer(db, discard)
	dw := NewDecayWorker(db, scorer, discard)

	lead := models.Lead{OwnerID: 1, FirstName: "Davi", Email: "davi@old.com", Source: "website"}
	require.NoError(t, db.Create(&lead).Error)
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", lead.ID).
		Update("created_at", time.Now().Add(-49*time.Hour)).Error)
	_, err := scorer.Recalculate(lead.ID)
	require.NoError(t, err)

	dw.RunDecayPass()

	var score models.LeadScore
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&score).Error)
	first := score.NumericScore
	assert.Equal(t, 6, first) // 10 source minus 2 days of decay

	// A decay event is not an interaction, so the lead stays stale
	// and the next pass still sees it.
	dw.RunDecayPass()

	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&score).Error)
	assert.Equal(t, first, score.NumericScore, "recompute from the same inputs is stable")

	var decayEvents int64
	db.Model(&models.LeadScoreEvent{}).
		Where("lead_id = ? AND event_type = ?", lead.ID, models.ScoreEventDecay).
		Count(&decayEvents)
	assert.EqualValues(t, 2, decayEvents)
}
