package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Event status values as reported by the provider's status.type.state
const (
	StatusScheduled  = "pre"
	StatusInProgress = "in"
	StatusFinal      = "post"
)

// Event represents a scheduled competition between two competitors
type Event struct {
	ID             int64          `db:"id"`
	ExternalID     string         `db:"external_id"`
	ExternalSource string         `db:"external_source"`
	Name           string         `db:"name"`
	SeasonYear     int            `db:"season_year"`
	SeasonType     sql.NullInt32  `db:"season_type"`
	Week           sql.NullInt32  `db:"week"`
	ScheduledAt    time.Time      `db:"scheduled_at"`
	Status         string         `db:"status"`
	Completed      bool           `db:"completed"`
	Venue          sql.NullString `db:"venue"`

	// Notes is edited by league administrators. Sync never writes it.
	Notes sql.NullString `db:"notes"`

	Participants []*EventParticipant `db:"-"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewEvent builds an event with its identity fields validated
func NewEvent(source, externalID, name string, seasonYear int, scheduledAt time.Time) (*Event, error) {
	externalID = strings.TrimSpace(externalID)
	name = strings.TrimSpace(name)

	if source == "" {
		return nil, fmt.Errorf("event external source is required")
	}
	if externalID == "" {
		return nil, fmt.Errorf("event external id is required")
	}
	if name == "" {
		return nil, fmt.Errorf("event %s has no display name", externalID)
	}
	if scheduledAt.IsZero() {
		return nil, fmt.Errorf("event %s has no scheduled date", externalID)
	}
	if seasonYear <= 0 {
		return nil, fmt.Errorf("event %s has invalid season %d", externalID, seasonYear)
	}

	return &Event{
		ExternalID:     externalID,
		ExternalSource: source,
		Name:           name,
		SeasonYear:     seasonYear,
		ScheduledAt:    scheduledAt.UTC(),
		Status:         StatusScheduled,
	}, nil
}

// Key returns the merge key of the event
func (e *Event) Key() ExternalKey {
	return ExternalKey{ID: e.ExternalID, Source: e.ExternalSource}
}

// Home returns the home participant, or nil
func (e *Event) Home() *EventParticipant {
	for _, p := range e.Participants {
		if p.IsHome {
			return p
		}
	}
	return nil
}

// Away returns the away participant, or nil
func (e *Event) Away() *EventParticipant {
	for _, p := range e.Participants {
		if !p.IsHome {
			return p
		}
	}
	return nil
}

// CompetitorRef identifies a participant's competitor by provider identity.
// Name and ShortCode are carried so an unseen competitor can be created.
type CompetitorRef struct {
	ExternalID string
	Name       string
	ShortCode  string
}

// EventParticipant joins a competitor to an event along with its result
type EventParticipant struct {
	ID           int64         `db:"id"`
	EventID      int64         `db:"event_id"`
	CompetitorID int64         `db:"competitor_id"`
	IsHome       bool          `db:"is_home"`
	Score        sql.NullInt32 `db:"score"`
	IsWinner     bool          `db:"is_winner"`
	Position     sql.NullInt32 `db:"position"`

	Competitor CompetitorRef `db:"-"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewEventParticipant builds a participant referencing a competitor by external id
func NewEventParticipant(ref CompetitorRef, isHome bool) (*EventParticipant, error) {
	ref.ExternalID = strings.TrimSpace(ref.ExternalID)
	if ref.ExternalID == "" {
		return nil, fmt.Errorf("participant competitor id is required")
	}
	return &EventParticipant{
		Competitor: ref,
		IsHome:     isHome,
	}, nil
}
