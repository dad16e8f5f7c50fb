package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SourceESPN tags records whose identity comes from the ESPN site API
const SourceESPN = "espn"

// Competitor represents a team (or individual) that takes part in events
type Competitor struct {
	ID             int64          `db:"id"`
	ExternalID     string         `db:"external_id"`
	ExternalSource string         `db:"external_source"`
	Name           string         `db:"name"`
	ShortCode      string         `db:"short_code"`
	Location       sql.NullString `db:"location"`
	Nickname       sql.NullString `db:"nickname"`
	FirstName      sql.NullString `db:"first_name"`
	LastName       sql.NullString `db:"last_name"`
	LogoURL        sql.NullString `db:"logo_url"`
	Color          sql.NullString `db:"color"`
	AlternateColor sql.NullString `db:"alternate_color"`
	IsActive       bool           `db:"is_active"`
	// ActiveReported is set when the provider stated IsActive. Not persisted.
	ActiveReported bool           `db:"-"`

	// LeagueEnabled is managed by league administrators. Sync never writes it.
	LeagueEnabled bool `db:"league_enabled"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewCompetitor builds an active competitor with its identity fields validated
func NewCompetitor(source, externalID, name, shortCode string) (*Competitor, error) {
	externalID = strings.TrimSpace(externalID)
	name = strings.TrimSpace(name)

	if source == "" {
		return nil, fmt.Errorf("competitor external source is required")
	}
	if externalID == "" {
		return nil, fmt.Errorf("competitor external id is required")
	}
	if name == "" {
		return nil, fmt.Errorf("competitor %s has no display name", externalID)
	}

	return &Competitor{
		ExternalID:     externalID,
		ExternalSource: source,
		Name:           name,
		ShortCode:      strings.TrimSpace(shortCode),
		IsActive:       true,
		LeagueEnabled:  true,
	}, nil
}

// Key returns the merge key of the competitor
func (c *Competitor) Key() ExternalKey {
	return ExternalKey{ID: c.ExternalID, Source: c.ExternalSource}
}

// ExternalKey is the provider identity of a record: its id plus the provider tag
type ExternalKey struct {
	ID     string
	Source string
}

func (k ExternalKey) String() string {
	return k.Source + ":" + k.ID
}

// NullString wraps a non-empty string as a valid sql.NullString
func NullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// NullInt32 wraps an optional int as sql.NullInt32
func NullInt32(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}
