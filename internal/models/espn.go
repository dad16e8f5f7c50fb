package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Payload shapes of the ESPN site API. Record lists are kept as raw messages
// so a single record with unexpected types can be skipped without failing the
// whole response.

// TeamsResponse is the body of GET /teams
type TeamsResponse struct {
	Sports []struct {
		Leagues []struct {
			Teams []json.RawMessage `json:"teams"`
		} `json:"leagues"`
	} `json:"sports"`
}

// TeamEntry wraps a single team in the /teams listing
type TeamEntry struct {
	Team TeamInput `json:"team"`
}

// TeamInput is used for creating/updating competitors from the API
type TeamInput struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	Abbreviation   string `json:"abbreviation"`
	Location       string `json:"location"`
	Nickname       string `json:"nickname"`
	Color          string `json:"color"`
	AlternateColor string `json:"alternateColor"`
	Logos          []struct {
		Href string `json:"href"`
	} `json:"logos"`
	IsActive *bool `json:"isActive,omitempty"`
}

// ScoreboardResponse is the body of GET /scoreboard
type ScoreboardResponse struct {
	Season *SeasonRef        `json:"season,omitempty"`
	Week   *WeekRef          `json:"week,omitempty"`
	Events []json.RawMessage `json:"events"`
}

// SeasonRef is the season tag attached to a scoreboard or an event
type SeasonRef struct {
	Year int    `json:"year"`
	Type int    `json:"type"`
	Slug string `json:"slug"`
}

// WeekRef is the week tag attached to a scoreboard or an event
type WeekRef struct {
	Number int `json:"number"`
}

// EventInput is a single event in the scoreboard
type EventInput struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Date   string `json:"date"`
	Status struct {
		Type struct {
			State     string `json:"state"`
			Completed bool   `json:"completed"`
		} `json:"type"`
	} `json:"status"`
	Competitions []CompetitionInput `json:"competitions"`
	Week         *WeekRef           `json:"week,omitempty"`
	Season       *SeasonRef         `json:"season,omitempty"`
}

// CompetitionInput holds the participants and venue of an event
type CompetitionInput struct {
	Competitors []CompetitorInput `json:"competitors"`
	Venue       *struct {
		FullName string `json:"fullName"`
	} `json:"venue,omitempty"`
}

// CompetitorInput is one side of a competition. Score arrives as a string
// ("24") on the scoreboard but as a number or an object on other endpoints.
type CompetitorInput struct {
	ID       string          `json:"id"`
	HomeAway string          `json:"homeAway"`
	Team     TeamRefInput    `json:"team"`
	Score    json.RawMessage `json:"score,omitempty"`
	Winner   *bool           `json:"winner,omitempty"`
}

// TeamRefInput is the abbreviated team embedded in a competitor
type TeamRefInput struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Abbreviation string `json:"abbreviation"`
}

// SeasonInput is the body of GET /seasons/{year}
type SeasonInput struct {
	Year        int               `json:"year"`
	StartDate   string            `json:"startDate"`
	EndDate     string            `json:"endDate"`
	DisplayName string            `json:"displayName"`
	Types       []SeasonTypeInput `json:"types"`
}

// SeasonTypeInput is one phase of a season (preseason, regular, postseason)
type SeasonTypeInput struct {
	ID           string `json:"id"`
	Type         int    `json:"type"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
}

// providerTimeLayouts are the timestamp shapes the provider emits, most common first
var providerTimeLayouts = []string{
	"2006-01-02T15:04Z07:00",
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02",
}

// ParseProviderTime parses a provider timestamp such as "2024-09-06T00:20Z"
func ParseProviderTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range providerTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
