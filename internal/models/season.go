package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Season represents one competitive year of a sport
type Season struct {
	ID          int64          `db:"id"`
	Sport       string         `db:"sport"`
	Year        int            `db:"year"`
	DisplayName string         `db:"display_name"`
	Type        sql.NullString `db:"type"`
	StartDate   time.Time      `db:"start_date"`
	EndDate     time.Time      `db:"end_date"`
	IsActive    bool           `db:"is_active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// NewSeason builds a season and derives its active flag from now
func NewSeason(sport string, year int, start, end, now time.Time) (*Season, error) {
	if sport == "" {
		return nil, fmt.Errorf("season sport is required")
	}
	if year <= 0 {
		return nil, fmt.Errorf("invalid season year %d", year)
	}
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return nil, fmt.Errorf("invalid boundaries for season %d: %s - %s", year, start, end)
	}

	s := &Season{
		Sport:       sport,
		Year:        year,
		DisplayName: fmt.Sprintf("%d", year),
		StartDate:   start.UTC(),
		EndDate:     end.UTC(),
	}
	s.RecomputeActive(now)
	return s, nil
}

// Contains returns true if t falls within [StartDate, EndDate]
func (s *Season) Contains(t time.Time) bool {
	return !t.Before(s.StartDate) && !t.After(s.EndDate)
}

// RecomputeActive sets IsActive from the season boundaries
func (s *Season) RecomputeActive(now time.Time) {
	s.IsActive = s.Contains(now)
}

// SyncWindow is the [Start, End) date range requested from the provider
type SyncWindow struct {
	Start time.Time
	End   time.Time
}

// IsEmpty returns true if the window contains no time
func (w SyncWindow) IsEmpty() bool {
	return !w.End.After(w.Start)
}

// LastDay returns the final calendar day included in the window
func (w SyncWindow) LastDay() time.Time {
	return w.End.AddDate(0, 0, -1)
}

func (w SyncWindow) String() string {
	return w.Start.Format("2006-01-02") + ".." + w.End.Format("2006-01-02")
}

// SeasonCacheEntry is a resolved season year held in memory until ExpiresAt
type SeasonCacheEntry struct {
	Year      int
	ExpiresAt time.Time
}

// Expired returns true if the entry is no longer valid at now
func (e SeasonCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
