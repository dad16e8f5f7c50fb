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

// SeasonRepository handles season database operations
type SeasonRepository struct {
	q querier
}

const seasonColumns = `
	id, sport, year, display_name, type, start_date, end_date, is_active,
	created_at, updated_at`

func scanSeason(row pgx.Row) (*models.Season, error) {
	var s models.Season
	err := row.Scan(
		&s.ID, &s.Sport, &s.Year, &s.DisplayName, &s.Type, &s.StartDate,
		&s.EndDate, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSeason inserts or updates a season keyed by (sport, year)
func (r *SeasonRepository) UpsertSeason(ctx context.Context, s *models.Season) error {
	query := `
		INSERT INTO seasons (
			sport, year, display_name, type, start_date, end_date, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sport, year) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			type = COALESCE(EXCLUDED.type, seasons.type),
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		s.Sport, s.Year, s.DisplayName, s.Type, s.StartDate, s.EndDate, s.IsActive,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert season %d: %w", s.Year, err)
	}

	return nil
}

// GetSeason retrieves a season by sport and year
func (r *SeasonRepository) GetSeason(ctx context.Context, sport string, year int) (*models.Season, error) {
	query := `SELECT ` + seasonColumns + `
		FROM seasons
		WHERE sport = $1 AND year = $2
	`

	s, err := scanSeason(r.q.QueryRow(ctx, query, sport, year))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get season %d: %w", year, err)
	}

	return s, nil
}

// GetActiveSeason retrieves the season flagged active, preferring the latest year
func (r *SeasonRepository) GetActiveSeason(ctx context.Context, sport string) (*models.Season, error) {
	query := `SELECT ` + seasonColumns + `
		FROM seasons
		WHERE sport = $1 AND is_active
		ORDER BY year DESC
		LIMIT 1
	`

	s, err := scanSeason(r.q.QueryRow(ctx, query, sport))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active season: %w", err)
	}

	return s, nil
}

// List retrieves all seasons of a sport, newest first
func (r *SeasonRepository) List(ctx context.Context, sport string) ([]*models.Season, error) {
	query := `SELECT ` + seasonColumns + `
		FROM seasons
		WHERE sport = $1
		ORDER BY year DESC
	`

	rows, err := r.q.Query(ctx, query, sport)
	if err != nil {
		return nil, fmt.Errorf("failed to list seasons: %w", err)
	}
	defer rows.Close()

	var seasons []*models.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season: %w", err)
		}
		seasons = append(seasons, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seasons: %w", err)
	}

	return seasons, nil
}

// RefreshActiveFlags recomputes is_active from the stored boundaries and
// returns how many seasons changed
func (r *SeasonRepository) RefreshActiveFlags(ctx context.Context, sport string, now time.Time) (int64, error) {
	query := `
		UPDATE seasons
		SET is_active = ($2 BETWEEN start_date AND end_date),
		    updated_at = NOW()
		WHERE sport = $1
		  AND is_active IS DISTINCT FROM ($2 BETWEEN start_date AND end_date)
	`

	tag, err := r.q.Exec(ctx, query, sport, now)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh season flags: %w", err)
	}

	if tag.RowsAffected() > 0 {
		log.Info().
			Str("sport", sport).
			Int64("changed", tag.RowsAffected()).
			Msg("Season active flags refreshed")
	}

	return tag.RowsAffected(), nil
}
