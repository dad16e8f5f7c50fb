// Package mapper turns raw provider payloads into internal records.
//
// Mapping never fails on a single bad record: the record is skipped and a
// warning is returned alongside the records that did map. Only a payload whose
// envelope cannot be decoded at all yields an error.
package mapper

import (
	"bytes"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"pickem/ingestion/internal/models"

	"github.com/goccy/go-json"
)

// Warning describes a record that was skipped
type Warning struct {
	Index      int    `json:"index"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
}

func (w Warning) String() string {
	if w.ExternalID != "" {
		return fmt.Sprintf("record %d (%s): %s", w.Index, w.ExternalID, w.Reason)
	}
	return fmt.Sprintf("record %d: %s", w.Index, w.Reason)
}

// MapCompetitors maps a /teams payload. A nil payload maps to nothing.
func MapCompetitors(payload []byte) ([]*models.Competitor, []Warning, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil, nil
	}

	var resp models.TeamsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode teams payload: %w", err)
	}

	var (
		competitors []*models.Competitor
		warnings    []Warning
		index       int
	)
	for _, sport := range resp.Sports {
		for _, league := range sport.Leagues {
			for _, raw := range league.Teams {
				c, w := mapCompetitor(index, raw)
				if w != nil {
					warnings = append(warnings, *w)
				} else {
					competitors = append(competitors, c)
				}
				index++
			}
		}
	}

	return competitors, warnings, nil
}

func mapCompetitor(index int, raw json.RawMessage) (*models.Competitor, *Warning) {
	var entry models.TeamEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, &Warning{Index: index, Reason: "undecodable team: " + err.Error()}
	}
	in := entry.Team

	c, err := models.NewCompetitor(models.SourceESPN, in.ID, in.DisplayName, in.Abbreviation)
	if err != nil {
		return nil, &Warning{Index: index, ExternalID: in.ID, Reason: err.Error()}
	}

	c.Location = models.NullString(in.Location)
	c.Nickname = models.NullString(in.Nickname)
	c.Color = models.NullString(in.Color)
	c.AlternateColor = models.NullString(in.AlternateColor)
	if len(in.Logos) > 0 {
		c.LogoURL = models.NullString(in.Logos[0].Href)
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
		c.ActiveReported = true
	}

	return c, nil
}

// MapEvents maps a /scoreboard payload. Season and week come from the event
// itself, then the scoreboard, then fallbackSeason.
func MapEvents(payload []byte, fallbackSeason int) ([]*models.Event, []Warning, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil, nil
	}

	var resp models.ScoreboardResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode scoreboard payload: %w", err)
	}

	var (
		events   []*models.Event
		warnings []Warning
	)
	for i, raw := range resp.Events {
		e, w := mapEvent(i, raw, &resp, fallbackSeason)
		if w != nil {
			warnings = append(warnings, *w)
			continue
		}
		events = append(events, e)
	}

	return events, warnings, nil
}

func mapEvent(index int, raw json.RawMessage, batch *models.ScoreboardResponse, fallbackSeason int) (*models.Event, *Warning) {
	var in models.EventInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &Warning{Index: index, Reason: "undecodable event: " + err.Error()}
	}
	skip := func(reason string) (*models.Event, *Warning) {
		return nil, &Warning{Index: index, ExternalID: in.ID, Reason: reason}
	}

	if strings.TrimSpace(in.ID) == "" {
		return skip("missing id")
	}
	if strings.TrimSpace(in.Name) == "" {
		return skip("missing name")
	}
	scheduledAt, err := models.ParseProviderTime(in.Date)
	if err != nil {
		return skip("invalid date: " + err.Error())
	}

	if len(in.Competitions) == 0 {
		return skip("no competition")
	}
	competition := in.Competitions[0]
	if n := len(competition.Competitors); n != 2 {
		return skip(fmt.Sprintf("expected 2 participants, got %d", n))
	}

	seasonRef := in.Season
	if seasonRef == nil || seasonRef.Year <= 0 {
		seasonRef = batch.Season
	}
	seasonYear := fallbackSeason
	if seasonRef != nil && seasonRef.Year > 0 {
		seasonYear = seasonRef.Year
	}

	e, err := models.NewEvent(models.SourceESPN, in.ID, in.Name, seasonYear, scheduledAt)
	if err != nil {
		return skip(err.Error())
	}

	if seasonRef != nil && seasonRef.Type > 0 {
		t := seasonRef.Type
		e.SeasonType = models.NullInt32(&t)
	}

	weekRef := in.Week
	if weekRef == nil || weekRef.Number <= 0 {
		weekRef = batch.Week
	}
	if weekRef != nil && weekRef.Number > 0 {
		w := weekRef.Number
		e.Week = models.NullInt32(&w)
	}

	if state := strings.TrimSpace(in.Status.Type.State); state != "" {
		e.Status = state
	}
	e.Completed = in.Status.Type.Completed
	if competition.Venue != nil {
		e.Venue = models.NullString(competition.Venue.FullName)
	}

	var homes int
	for _, ci := range competition.Competitors {
		p, err := mapParticipant(ci, e.Completed)
		if err != nil {
			return skip(err.Error())
		}
		if p.IsHome {
			homes++
		}
		e.Participants = append(e.Participants, p)
	}
	if homes != 1 {
		return skip(fmt.Sprintf("expected one home participant, got %d", homes))
	}
	if e.Participants[0].Competitor.ExternalID == e.Participants[1].Competitor.ExternalID {
		return skip("both participants are the same competitor")
	}

	return e, nil
}

func mapParticipant(in models.CompetitorInput, completed bool) (*models.EventParticipant, error) {
	id := in.Team.ID
	if strings.TrimSpace(id) == "" {
		id = in.ID
	}

	ref := models.CompetitorRef{
		ExternalID: id,
		Name:       in.Team.DisplayName,
		ShortCode:  in.Team.Abbreviation,
	}
	p, err := models.NewEventParticipant(ref, strings.EqualFold(in.HomeAway, "home"))
	if err != nil {
		return nil, err
	}

	p.Score = parseScore(in.Score)
	if in.Winner != nil {
		p.IsWinner = *in.Winner
		if completed {
			pos := 2
			if p.IsWinner {
				pos = 1
			}
			p.Position = models.NullInt32(&pos)
		}
	}

	return p, nil
}

// parseScore accepts "24", 24 or {"value": 24, "displayValue": "24"}.
// Anything else, including an empty string, is left unset.
func parseScore(raw json.RawMessage) sql.NullInt32 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return sql.NullInt32{}
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return sql.NullInt32{}
		}
		return scoreFromString(s)
	case '{':
		var obj struct {
			Value        *float64 `json:"value"`
			DisplayValue string   `json:"displayValue"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return sql.NullInt32{}
		}
		if obj.Value != nil {
			return scoreFromFloat(*obj.Value)
		}
		return scoreFromString(obj.DisplayValue)
	default:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return sql.NullInt32{}
		}
		return scoreFromFloat(f)
	}
}

func scoreFromString(s string) sql.NullInt32 {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return sql.NullInt32{}
	}
	return models.NullInt32(&n)
}

func scoreFromFloat(f float64) sql.NullInt32 {
	if f < 0 || f != float64(int(f)) {
		return sql.NullInt32{}
	}
	n := int(f)
	return models.NullInt32(&n)
}
