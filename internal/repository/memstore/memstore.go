// Package memstore is an in-memory implementation of the repository contracts
// used by the reconciliation engine and season resolver. It backs unit tests
// and the dry-run mode of syncctl.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pickem/ingestion/internal/models"
	"pickem/ingestion/internal/repository"
)

// Store keeps records in maps. InTx serializes units of work and restores
// the previous state when the work fails.
type Store struct {
	mu sync.Mutex

	competitors  map[int64]*models.Competitor
	events       map[int64]*models.Event
	participants map[int64]*models.EventParticipant
	seasons      map[string]*models.Season
	nextID       int64

	// FailOn, when set, is consulted before every write inside a unit of
	// work. A non-nil return aborts the write with that error.
	FailOn func(op string, n int) error
	writes int
}

// New creates an empty store
func New() *Store {
	return &Store{
		competitors:  make(map[int64]*models.Competitor),
		events:       make(map[int64]*models.Event),
		participants: make(map[int64]*models.EventParticipant),
		seasons:      make(map[string]*models.Season),
	}
}

type snapshot struct {
	competitors  map[int64]models.Competitor
	events       map[int64]models.Event
	participants map[int64]models.EventParticipant
	nextID       int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		competitors:  make(map[int64]models.Competitor, len(s.competitors)),
		events:       make(map[int64]models.Event, len(s.events)),
		participants: make(map[int64]models.EventParticipant, len(s.participants)),
		nextID:       s.nextID,
	}
	for id, c := range s.competitors {
		snap.competitors[id] = *c
	}
	for id, e := range s.events {
		snap.events[id] = *e
	}
	for id, p := range s.participants {
		snap.participants[id] = *p
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.competitors = make(map[int64]*models.Competitor, len(snap.competitors))
	for id, c := range snap.competitors {
		c := c
		s.competitors[id] = &c
	}
	s.events = make(map[int64]*models.Event, len(snap.events))
	for id, e := range snap.events {
		e := e
		s.events[id] = &e
	}
	s.participants = make(map[int64]*models.EventParticipant, len(snap.participants))
	for id, p := range snap.participants {
		p := p
		s.participants[id] = &p
	}
	s.nextID = snap.nextID
}

// InTx runs fn as one unit of work
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(ctx, &tx{s: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	committed = true
	return nil
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) checkWrite(op string) error {
	s.writes++
	if s.FailOn != nil {
		return s.FailOn(op, s.writes)
	}
	return nil
}

// tx is valid only while InTx holds the store lock
type tx struct {
	s *Store
}

func (t *tx) FindCompetitor(_ context.Context, key models.ExternalKey) (*models.Competitor, error) {
	for _, c := range t.s.competitors {
		if c.Key() == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *tx) InsertCompetitor(_ context.Context, c *models.Competitor) error {
	if err := t.s.checkWrite("insert_competitor"); err != nil {
		return err
	}
	for _, existing := range t.s.competitors {
		if existing.Key() == c.Key() {
			return fmt.Errorf("duplicate competitor %s", c.Key())
		}
	}

	now := time.Now().UTC()
	c.ID = t.s.id()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	t.s.competitors[c.ID] = &cp
	return nil
}

func (t *tx) UpdateCompetitor(_ context.Context, c *models.Competitor) error {
	if err := t.s.checkWrite("update_competitor"); err != nil {
		return err
	}
	stored, ok := t.s.competitors[c.ID]
	if !ok {
		return repository.ErrNotFound
	}

	// Mirror the SQL update: locally owned fields keep their stored value
	leagueEnabled := stored.LeagueEnabled
	createdAt := stored.CreatedAt

	cp := *c
	cp.LeagueEnabled = leagueEnabled
	cp.CreatedAt = createdAt
	cp.UpdatedAt = time.Now().UTC()
	t.s.competitors[c.ID] = &cp
	c.UpdatedAt = cp.UpdatedAt
	return nil
}

func (t *tx) FindEvent(_ context.Context, key models.ExternalKey) (*models.Event, error) {
	for _, e := range t.s.events {
		if e.Key() == key {
			cp := *e
			cp.Participants = nil
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *tx) InsertEvent(_ context.Context, e *models.Event) error {
	if err := t.s.checkWrite("insert_event"); err != nil {
		return err
	}
	for _, existing := range t.s.events {
		if existing.Key() == e.Key() {
			return fmt.Errorf("duplicate event %s", e.Key())
		}
	}

	now := time.Now().UTC()
	e.ID = t.s.id()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	cp.Participants = nil
	t.s.events[e.ID] = &cp
	return nil
}

func (t *tx) UpdateEvent(_ context.Context, e *models.Event) error {
	if err := t.s.checkWrite("update_event"); err != nil {
		return err
	}
	stored, ok := t.s.events[e.ID]
	if !ok {
		return repository.ErrNotFound
	}

	cp := *e
	cp.Participants = nil
	cp.Notes = stored.Notes
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	t.s.events[e.ID] = &cp
	e.UpdatedAt = cp.UpdatedAt
	return nil
}

func (t *tx) ListParticipants(_ context.Context, eventID int64) ([]*models.EventParticipant, error) {
	return t.s.participantsOf(eventID), nil
}

func (t *tx) InsertParticipant(_ context.Context, p *models.EventParticipant) error {
	if err := t.s.checkWrite("insert_participant"); err != nil {
		return err
	}
	if _, ok := t.s.events[p.EventID]; !ok {
		return fmt.Errorf("participant references unknown event %d", p.EventID)
	}
	if _, ok := t.s.competitors[p.CompetitorID]; !ok {
		return fmt.Errorf("participant references unknown competitor %d", p.CompetitorID)
	}
	for _, existing := range t.s.participants {
		if existing.EventID == p.EventID && existing.CompetitorID == p.CompetitorID {
			return fmt.Errorf("duplicate participant event=%d competitor=%d", p.EventID, p.CompetitorID)
		}
	}

	now := time.Now().UTC()
	p.ID = t.s.id()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	t.s.participants[p.ID] = &cp
	return nil
}

func (t *tx) UpdateParticipant(_ context.Context, p *models.EventParticipant) error {
	if err := t.s.checkWrite("update_participant"); err != nil {
		return err
	}
	stored, ok := t.s.participants[p.ID]
	if !ok {
		return repository.ErrNotFound
	}

	cp := *stored
	cp.IsHome = p.IsHome
	cp.Score = p.Score
	cp.IsWinner = p.IsWinner
	cp.Position = p.Position
	cp.UpdatedAt = time.Now().UTC()
	t.s.participants[p.ID] = &cp
	p.UpdatedAt = cp.UpdatedAt
	return nil
}

func (t *tx) DeleteParticipant(_ context.Context, id int64) error {
	if err := t.s.checkWrite("delete_participant"); err != nil {
		return err
	}
	if _, ok := t.s.participants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(t.s.participants, id)
	return nil
}

func (s *Store) participantsOf(eventID int64) []*models.EventParticipant {
	var out []*models.EventParticipant
	for _, p := range s.participants {
		if p.EventID == eventID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Competitors returns copies of all competitors ordered by id
func (s *Store) Competitors() []*models.Competitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Competitor, 0, len(s.competitors))
	for _, c := range s.competitors {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Competitor returns a copy of the competitor with the given provider id, or nil
func (s *Store) Competitor(source, externalID string) *models.Competitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.ExternalKey{ID: externalID, Source: source}
	for _, c := range s.competitors {
		if c.Key() == key {
			cp := *c
			return &cp
		}
	}
	return nil
}

// Event returns a copy of the event with the given provider id and its participants, or nil
func (s *Store) Event(source, externalID string) *models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.ExternalKey{ID: externalID, Source: source}
	for _, e := range s.events {
		if e.Key() == key {
			cp := *e
			cp.Participants = s.participantsOf(e.ID)
			return &cp
		}
	}
	return nil
}

// EventCount returns the number of stored events
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// CountInProgress returns the number of events currently being played
func (s *Store) CountInProgress(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Status == models.StatusInProgress {
			n++
		}
	}
	return n, nil
}

// ParticipantCount returns the number of stored participant rows
func (s *Store) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// SetCompetitorLeagueEnabled edits a locally owned field the way an administrator would
func (s *Store) SetCompetitorLeagueEnabled(id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.competitors[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.LeagueEnabled = enabled
	return nil
}

// SetEventNotes edits a locally owned field the way an administrator would
func (s *Store) SetEventNotes(id int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Notes = models.NullString(notes)
	return nil
}

func seasonKey(sport string, year int) string {
	return fmt.Sprintf("%s:%d", sport, year)
}

// UpsertSeason inserts or replaces a season keyed by (sport, year)
func (s *Store) UpsertSeason(_ context.Context, season *models.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := seasonKey(season.Sport, season.Year)
	if existing, ok := s.seasons[key]; ok {
		season.ID = existing.ID
		season.CreatedAt = existing.CreatedAt
		if !season.Type.Valid {
			season.Type = existing.Type
		}
	} else {
		season.ID = s.id()
		season.CreatedAt = now
	}
	season.UpdatedAt = now

	cp := *season
	s.seasons[key] = &cp
	return nil
}

// GetSeason returns repository.ErrNotFound for unknown years
func (s *Store) GetSeason(_ context.Context, sport string, year int) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	season, ok := s.seasons[seasonKey(sport, year)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *season
	return &cp, nil
}

// GetActiveSeason returns the latest season flagged active
func (s *Store) GetActiveSeason(_ context.Context, sport string) (*models.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active *models.Season
	for _, season := range s.seasons {
		if season.Sport != sport || !season.IsActive {
			continue
		}
		if active == nil || season.Year > active.Year {
			active = season
		}
	}
	if active == nil {
		return nil, repository.ErrNotFound
	}
	cp := *active
	return &cp, nil
}

// RefreshActiveFlags recomputes every season's active flag from its boundaries
func (s *Store) RefreshActiveFlags(_ context.Context, sport string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, season := range s.seasons {
		if season.Sport != sport {
			continue
		}
		was := season.IsActive
		season.RecomputeActive(now)
		if season.IsActive != was {
			changed++
		}
	}
	return changed, nil
}
