package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pickem/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// EventRepository handles event and participant database operations
type EventRepository struct {
	q querier
}

const eventColumns = `
	id, external_id, external_source, name, season_year, season_type, week,
	scheduled_at, status, completed, venue, notes, created_at, updated_at`

const participantColumns = `
	id, event_id, competitor_id, is_home, score, is_winner, position,
	created_at, updated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(
		&e.ID, &e.ExternalID, &e.ExternalSource, &e.Name, &e.SeasonYear,
		&e.SeasonType, &e.Week, &e.ScheduledAt, &e.Status, &e.Completed,
		&e.Venue, &e.Notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanParticipant(row pgx.Row) (*models.EventParticipant, error) {
	var p models.EventParticipant
	err := row.Scan(
		&p.ID, &p.EventID, &p.CompetitorID, &p.IsHome, &p.Score,
		&p.IsWinner, &p.Position, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new event. Participants are written separately.
func (r *EventRepository) Create(ctx context.Context, e *models.Event) error {
	query := `
		INSERT INTO events (
			external_id, external_source, name, season_year, season_type, week,
			scheduled_at, status, completed, venue, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		e.ExternalID, e.ExternalSource, e.Name, e.SeasonYear, e.SeasonType, e.Week,
		e.ScheduledAt, e.Status, e.Completed, e.Venue, e.Notes,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create event %s: %w", e.Key(), err)
	}

	log.Debug().
		Int64("id", e.ID).
		Str("external_id", e.ExternalID).
		Str("name", e.Name).
		Msg("Event created")

	return nil
}

// Update writes the provider-owned fields of an existing event. notes is left as stored.
func (r *EventRepository) Update(ctx context.Context, e *models.Event) error {
	query := `
		UPDATE events SET
			name = $2,
			season_year = $3,
			season_type = $4,
			week = $5,
			scheduled_at = $6,
			status = $7,
			completed = $8,
			venue = $9,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		e.ID, e.Name, e.SeasonYear, e.SeasonType, e.Week,
		e.ScheduledAt, e.Status, e.Completed, e.Venue,
	).Scan(&e.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("event id=%d: %w", e.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", e.Key(), err)
	}

	return nil
}

// GetByExternalID retrieves an event, without participants, by its provider identity
func (r *EventRepository) GetByExternalID(ctx context.Context, key models.ExternalKey) (*models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE external_source = $1 AND external_id = $2
	`

	e, err := scanEvent(r.q.QueryRow(ctx, query, key.Source, key.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", key, err)
	}

	return e, nil
}

// ListBetween retrieves events scheduled in [start, end) with their participants
func (r *EventRepository) ListBetween(ctx context.Context, start, end time.Time) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at
	`

	rows, err := r.q.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	// Participants are loaded after the event cursor is closed; a
	// transaction cannot run a second query while rows are open.
	for _, e := range events {
		if e.Participants, err = r.ListParticipants(ctx, e.ID); err != nil {
			return nil, err
		}
	}

	return events, nil
}

// CountBySeason returns the number of events stored for a season year
func (r *EventRepository) CountBySeason(ctx context.Context, seasonYear int) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE season_year = $1`, seasonYear).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// CountInProgress returns the number of events currently being played
func (r *EventRepository) CountInProgress(ctx context.Context) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE status = $1`, models.StatusInProgress).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count in-progress events: %w", err)
	}
	return count, nil
}

// ListParticipants retrieves the participants of an event
func (r *EventRepository) ListParticipants(ctx context.Context, eventID int64) ([]*models.EventParticipant, error) {
	query := `SELECT ` + participantColumns + `
		FROM event_participants
		WHERE event_id = $1
		ORDER BY is_home DESC, id
	`

	rows, err := r.q.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.EventParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participants, nil
}

// CreateParticipant inserts a participant row
func (r *EventRepository) CreateParticipant(ctx context.Context, p *models.EventParticipant) error {
	query := `
		INSERT INTO event_participants (
			event_id, competitor_id, is_home, score, is_winner, position
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		p.EventID, p.CompetitorID, p.IsHome, p.Score, p.IsWinner, p.Position,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create participant event=%d competitor=%d: %w", p.EventID, p.CompetitorID, err)
	}

	return nil
}

// UpdateParticipant writes the result fields of a participant
func (r *EventRepository) UpdateParticipant(ctx context.Context, p *models.EventParticipant) error {
	query := `
		UPDATE event_participants SET
			is_home = $2,
			score = $3,
			is_winner = $4,
			position = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query, p.ID, p.IsHome, p.Score, p.IsWinner, p.Position).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("participant id=%d: %w", p.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update participant id=%d: %w", p.ID, err)
	}

	return nil
}

// DeleteParticipant removes a participant row
func (r *EventRepository) DeleteParticipant(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM event_participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete participant id=%d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant id=%d: %w", id, ErrNotFound)
	}

	return nil
}
