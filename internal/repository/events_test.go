//go:build integration

package repository

import (
	"database/sql"
	"testing"
	"time"

	"pickem/ingestion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createCompetitor(t *testing.T, db *Database, name string) *models.Competitor {
	t.Helper()
	c, err := models.NewCompetitor(models.SourceESPN, uniqueID(name), name, "")
	require.NoError(t, err)
	require.NoError(t, db.Competitors.Create(t.Context(), c))
	return c
}

func TestEventRepository_CreateWithParticipants(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	home := createCompetitor(t, db, "Home")
	away := createCompetitor(t, db, "Away")

	scheduled := time.Date(2024, 9, 8, 17, 0, 0, 0, time.UTC)
	e, err := models.NewEvent(models.SourceESPN, uniqueID("event"), "Away at Home", 2024, scheduled)
	require.NoError(t, err)
	e.Week = sql.NullInt32{Int32: 1, Valid: true}

	// Insert event
	require.NoError(t, db.Events.Create(ctx, e), "Should insert event")
	assert.NotZero(t, e.ID)

	for _, c := range []*models.Competitor{home, away} {
		p, err := models.NewEventParticipant(models.CompetitorRef{ExternalID: c.ExternalID}, c.ID == home.ID)
		require.NoError(t, err)
		p.EventID = e.ID
		p.CompetitorID = c.ID
		require.NoError(t, db.Events.CreateParticipant(ctx, p), "Should insert participant")
	}

	// Retrieve and verify
	retrieved, err := db.Events.GetByExternalID(ctx, e.Key())
	require.NoError(t, err, "Should retrieve event")
	assert.Equal(t, 2024, retrieved.SeasonYear)
	assert.Equal(t, models.StatusScheduled, retrieved.Status)
	assert.True(t, scheduled.Equal(retrieved.ScheduledAt))

	participants, err := db.Events.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	for _, p := range participants {
		assert.False(t, p.Score.Valid, "Scores start unset")
	}
}

func TestEventRepository_UpdateKeepsNotes(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	e, err := models.NewEvent(models.SourceESPN, uniqueID("event"), "Away at Home", 2024, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	e.Notes = models.NullString("Flexed to primetime")
	require.NoError(t, db.Events.Create(ctx, e))

	// Update event status
	e.Status = models.StatusInProgress
	e.Notes = sql.NullString{}
	require.NoError(t, db.Events.Update(ctx, e), "Should update event")

	updated, err := db.Events.GetByExternalID(ctx, e.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, updated.Status)
	assert.Equal(t, "Flexed to primetime", updated.Notes.String, "Update must not touch notes")

	live, err := db.Events.CountInProgress(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, live, 1)
}

func TestEventRepository_UpdateParticipantScore(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	home := createCompetitor(t, db, "Home")
	e, err := models.NewEvent(models.SourceESPN, uniqueID("event"), "Final", 2024, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, db.Events.Create(ctx, e))

	p, err := models.NewEventParticipant(models.CompetitorRef{ExternalID: home.ExternalID}, true)
	require.NoError(t, err)
	p.EventID, p.CompetitorID = e.ID, home.ID
	require.NoError(t, db.Events.CreateParticipant(ctx, p))

	p.Score = sql.NullInt32{Int32: 31, Valid: true}
	p.IsWinner = true
	require.NoError(t, db.Events.UpdateParticipant(ctx, p))

	participants, err := db.Events.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, int32(31), participants[0].Score.Int32)
	assert.True(t, participants[0].IsWinner)
}

func TestEventRepository_DeleteParticipant(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	placeholder := createCompetitor(t, db, "TBD")
	e, err := models.NewEvent(models.SourceESPN, uniqueID("event"), "TBD at Home", 2024, time.Now().Add(72*time.Hour))
	require.NoError(t, err)
	require.NoError(t, db.Events.Create(ctx, e))

	p, err := models.NewEventParticipant(models.CompetitorRef{ExternalID: placeholder.ExternalID}, false)
	require.NoError(t, err)
	p.EventID, p.CompetitorID = e.ID, placeholder.ID
	require.NoError(t, db.Events.CreateParticipant(ctx, p))

	require.NoError(t, db.Events.DeleteParticipant(ctx, p.ID))

	participants, err := db.Events.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)

	err = db.Events.DeleteParticipant(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound, "Deleting twice should report not found")
}

func TestEventRepository_ListBetween(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	base := time.Date(2031, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e, err := models.NewEvent(models.SourceESPN, uniqueID("window"), "Windowed", 2031, base.AddDate(0, 0, i*7))
		require.NoError(t, err)
		require.NoError(t, db.Events.Create(ctx, e))
	}

	events, err := db.Events.ListBetween(ctx, base, base.AddDate(0, 0, 8))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(events), 2)
	for _, e := range events {
		assert.False(t, e.ScheduledAt.Before(base))
		assert.True(t, e.ScheduledAt.Before(base.AddDate(0, 0, 8)))
	}
}

func TestEventRepository_GetNotFound(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	_, err := db.Events.GetByExternalID(ctx, models.ExternalKey{ID: uniqueID("missing"), Source: models.SourceESPN})
	assert.ErrorIs(t, err, ErrNotFound)
}
