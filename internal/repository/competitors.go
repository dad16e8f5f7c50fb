package repository

import (
	"context"
	"errors"
	"fmt"

	"pickem/ingestion/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// CompetitorRepository handles competitor database operations
type CompetitorRepository struct {
	q querier
}

const competitorColumns = `
	id, external_id, external_source, name, short_code, location, nickname,
	first_name, last_name, logo_url, color, alternate_color, is_active,
	league_enabled, created_at, updated_at`

func scanCompetitor(row pgx.Row) (*models.Competitor, error) {
	var c models.Competitor
	err := row.Scan(
		&c.ID, &c.ExternalID, &c.ExternalSource, &c.Name, &c.ShortCode,
		&c.Location, &c.Nickname, &c.FirstName, &c.LastName, &c.LogoURL,
		&c.Color, &c.AlternateColor, &c.IsActive, &c.LeagueEnabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new competitor
func (r *CompetitorRepository) Create(ctx context.Context, c *models.Competitor) error {
	query := `
		INSERT INTO competitors (
			external_id, external_source, name, short_code, location, nickname,
			first_name, last_name, logo_url, color, alternate_color, is_active,
			league_enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		c.ExternalID, c.ExternalSource, c.Name, c.ShortCode, c.Location, c.Nickname,
		c.FirstName, c.LastName, c.LogoURL, c.Color, c.AlternateColor, c.IsActive,
		c.LeagueEnabled,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create competitor %s: %w", c.Key(), err)
	}

	log.Debug().
		Int64("id", c.ID).
		Str("external_id", c.ExternalID).
		Str("name", c.Name).
		Msg("Competitor created")

	return nil
}

// Update writes the provider-owned fields of an existing competitor.
// league_enabled is left as stored.
func (r *CompetitorRepository) Update(ctx context.Context, c *models.Competitor) error {
	query := `
		UPDATE competitors SET
			name = $2,
			short_code = $3,
			location = $4,
			nickname = $5,
			first_name = $6,
			last_name = $7,
			logo_url = $8,
			color = $9,
			alternate_color = $10,
			is_active = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(
		ctx, query,
		c.ID, c.Name, c.ShortCode, c.Location, c.Nickname, c.FirstName,
		c.LastName, c.LogoURL, c.Color, c.AlternateColor, c.IsActive,
	).Scan(&c.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("competitor id=%d: %w", c.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update competitor %s: %w", c.Key(), err)
	}

	return nil
}

// GetByExternalID retrieves a competitor by its provider identity
func (r *CompetitorRepository) GetByExternalID(ctx context.Context, key models.ExternalKey) (*models.Competitor, error) {
	query := `SELECT ` + competitorColumns + `
		FROM competitors
		WHERE external_source = $1 AND external_id = $2
	`

	c, err := scanCompetitor(r.q.QueryRow(ctx, query, key.Source, key.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get competitor %s: %w", key, err)
	}

	return c, nil
}

// List retrieves all competitors ordered by name
func (r *CompetitorRepository) List(ctx context.Context) ([]*models.Competitor, error) {
	query := `SELECT ` + competitorColumns + `
		FROM competitors
		ORDER BY name
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitors: %w", err)
	}
	defer rows.Close()

	var competitors []*models.Competitor
	for rows.Next() {
		c, err := scanCompetitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competitor: %w", err)
		}
		competitors = append(competitors, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating competitors: %w", err)
	}

	return competitors, nil
}

// SetLeagueEnabled toggles whether leagues may pick the competitor
func (r *CompetitorRepository) SetLeagueEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE competitors SET league_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to set league_enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("competitor id=%d: %w", id, ErrNotFound)
	}
	return nil
}

// Count returns the total number of competitors
func (r *CompetitorRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM competitors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count competitors: %w", err)
	}
	return count, nil
}
