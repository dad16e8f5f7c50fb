// Package reconcile merges mapped provider records into the store.
//
// Records are matched on (external source, external id). Existing rows get a
// field-level update of provider-owned fields; new rows are inserted. A whole
// batch is one unit of work: it commits entirely or not at all.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pickem/ingestion/internal/metrics"
	"pickem/ingestion/internal/models"
	"pickem/ingestion/internal/repository"

	"github.com/rs/zerolog"
)

// Store provides units of work over the persisted records
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
}

// Result counts what a batch did
type Result struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	// Duplicates is the number of batch entries collapsed into a later entry with the same key
	Duplicates int `json:"duplicates"`
	// StubCompetitors counts competitors created from event participants
	StubCompetitors int `json:"stub_competitors"`
	// UnexpectedParticipants counts participants appended to an existing event
	UnexpectedParticipants int `json:"unexpected_participants"`
	// RemovedParticipants counts stored participants the provider no longer reports
	RemovedParticipants int `json:"removed_participants"`
}

// Total returns the number of distinct records reconciled
func (r Result) Total() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Engine applies batches through a Store
type Engine struct {
	store Store
}

// NewEngine creates a reconciliation engine
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// UpsertCompetitors reconciles a batch of competitors
func (e *Engine) UpsertCompetitors(ctx context.Context, batch []*models.Competitor) (Result, error) {
	items, dupes := dedupe(batch, (*models.Competitor).Key)
	res := Result{Duplicates: dupes}
	if len(items) == 0 {
		return res, nil
	}

	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		for _, incoming := range items {
			if err := ctx.Err(); err != nil {
				return err
			}

			existing, err := tx.FindCompetitor(ctx, incoming.Key())
			if errors.Is(err, repository.ErrNotFound) {
				if err := tx.InsertCompetitor(ctx, incoming); err != nil {
					return err
				}
				res.Inserted++
				continue
			}
			if err != nil {
				return err
			}

			if !mergeCompetitor(existing, incoming) {
				incoming.ID = existing.ID
				res.Unchanged++
				continue
			}
			if err := tx.UpdateCompetitor(ctx, existing); err != nil {
				return err
			}
			incoming.ID = existing.ID
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to reconcile competitors: %w", err)
	}

	metrics.RecordReconciled("competitors", res.Inserted, res.Updated)
	zerolog.Ctx(ctx).Debug().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("duplicates", res.Duplicates).
		Msg("Competitors reconciled")

	return res, nil
}

// UpsertEvents reconciles a batch of events and their participants
func (e *Engine) UpsertEvents(ctx context.Context, batch []*models.Event) (Result, error) {
	items, dupes := dedupe(batch, (*models.Event).Key)
	res := Result{Duplicates: dupes}
	if len(items) == 0 {
		return res, nil
	}

	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// Competitor ids resolved in this unit of work, keyed by provider id
		resolved := make(map[models.ExternalKey]int64)

		for _, incoming := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.upsertEvent(ctx, tx, incoming, resolved, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to reconcile events: %w", err)
	}

	metrics.RecordReconciled("events", res.Inserted, res.Updated)
	zerolog.Ctx(ctx).Debug().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("duplicates", res.Duplicates).
		Int("stub_competitors", res.StubCompetitors).
		Int("removed_participants", res.RemovedParticipants).
		Msg("Events reconciled")

	return res, nil
}

func (e *Engine) upsertEvent(ctx context.Context, tx repository.Tx, incoming *models.Event, resolved map[models.ExternalKey]int64, res *Result) error {
	for _, p := range incoming.Participants {
		id, err := e.resolveCompetitor(ctx, tx, incoming.ExternalSource, p.Competitor, resolved, res)
		if err != nil {
			return err
		}
		p.CompetitorID = id
	}

	existing, err := tx.FindEvent(ctx, incoming.Key())
	if errors.Is(err, repository.ErrNotFound) {
		if err := tx.InsertEvent(ctx, incoming); err != nil {
			return err
		}
		for _, p := range incoming.Participants {
			p.EventID = incoming.ID
			if err := tx.InsertParticipant(ctx, p); err != nil {
				return err
			}
		}
		res.Inserted++
		return nil
	}
	if err != nil {
		return err
	}

	changed := mergeEvent(existing, incoming)
	if changed {
		if err := tx.UpdateEvent(ctx, existing); err != nil {
			return err
		}
	}
	incoming.ID = existing.ID

	stored, err := tx.ListParticipants(ctx, existing.ID)
	if err != nil {
		return err
	}
	byCompetitor := make(map[int64]*models.EventParticipant, len(stored))
	for _, p := range stored {
		byCompetitor[p.CompetitorID] = p
	}

	for _, p := range incoming.Participants {
		match, ok := byCompetitor[p.CompetitorID]
		if !ok {
			zerolog.Ctx(ctx).Warn().
				Str("event", existing.ExternalID).
				Str("competitor", p.Competitor.ExternalID).
				Msg("Unexpected participant on existing event, appending")

			p.EventID = existing.ID
			if err := tx.InsertParticipant(ctx, p); err != nil {
				return err
			}
			res.UnexpectedParticipants++
			changed = true
			continue
		}

		if !mergeParticipant(match, p) {
			p.ID = match.ID
			continue
		}
		if err := tx.UpdateParticipant(ctx, match); err != nil {
			return err
		}
		p.ID = match.ID
		changed = true
	}

	// Stored sides the provider dropped, e.g. a placeholder replaced by the real competitor
	incomingIDs := make(map[int64]struct{}, len(incoming.Participants))
	for _, p := range incoming.Participants {
		incomingIDs[p.CompetitorID] = struct{}{}
	}
	for _, p := range stored {
		if _, ok := incomingIDs[p.CompetitorID]; ok {
			continue
		}
		zerolog.Ctx(ctx).Warn().
			Str("event", existing.ExternalID).
			Int64("competitor_id", p.CompetitorID).
			Msg("Participant no longer reported, removing")

		if err := tx.DeleteParticipant(ctx, p.ID); err != nil {
			return err
		}
		res.RemovedParticipants++
		changed = true
	}

	if changed {
		res.Updated++
	} else {
		res.Unchanged++
	}
	return nil
}

// resolveCompetitor returns the internal id of a participant's competitor,
// creating it from the participant's team when it has never been synced
func (e *Engine) resolveCompetitor(ctx context.Context, tx repository.Tx, source string, ref models.CompetitorRef, resolved map[models.ExternalKey]int64, res *Result) (int64, error) {
	key := models.ExternalKey{ID: ref.ExternalID, Source: source}
	if id, ok := resolved[key]; ok {
		return id, nil
	}

	c, err := tx.FindCompetitor(ctx, key)
	switch {
	case err == nil:
		resolved[key] = c.ID
		return c.ID, nil
	case !errors.Is(err, repository.ErrNotFound):
		return 0, err
	}

	name := ref.Name
	if name == "" {
		name = ref.ExternalID
	}
	stub, err := models.NewCompetitor(source, ref.ExternalID, name, ref.ShortCode)
	if err != nil {
		return 0, fmt.Errorf("failed to build competitor for participant %s: %w", key, err)
	}
	if err := tx.InsertCompetitor(ctx, stub); err != nil {
		return 0, err
	}

	zerolog.Ctx(ctx).Info().
		Str("competitor", ref.ExternalID).
		Str("name", name).
		Msg("Created competitor from event participant")

	res.StubCompetitors++
	resolved[key] = stub.ID
	return stub.ID, nil
}

// dedupe collapses entries sharing a key into the last occurrence, keeping
// the position of the first
func dedupe[T any](batch []*T, key func(*T) models.ExternalKey) ([]*T, int) {
	index := make(map[models.ExternalKey]int, len(batch))
	out := make([]*T, 0, len(batch))
	dupes := 0

	for _, item := range batch {
		if item == nil {
			continue
		}
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			dupes++
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out, dupes
}

// mergeCompetitor copies provider-owned fields from src onto dst and reports
// whether anything changed. Optional fields absent from src keep their value.
func mergeCompetitor(dst, src *models.Competitor) bool {
	changed := false
	setString(&dst.Name, src.Name, &changed)
	if src.ShortCode != "" {
		setString(&dst.ShortCode, src.ShortCode, &changed)
	}
	setNullString(&dst.Location, src.Location, &changed)
	setNullString(&dst.Nickname, src.Nickname, &changed)
	setNullString(&dst.FirstName, src.FirstName, &changed)
	setNullString(&dst.LastName, src.LastName, &changed)
	setNullString(&dst.LogoURL, src.LogoURL, &changed)
	setNullString(&dst.Color, src.Color, &changed)
	setNullString(&dst.AlternateColor, src.AlternateColor, &changed)
	if src.ActiveReported && dst.IsActive != src.IsActive {
		dst.IsActive = src.IsActive
		changed = true
	}
	return changed
}

// mergeEvent copies provider-owned fields from src onto dst and reports
// whether anything changed
func mergeEvent(dst, src *models.Event) bool {
	changed := false
	setString(&dst.Name, src.Name, &changed)
	setString(&dst.Status, src.Status, &changed)
	if dst.SeasonYear != src.SeasonYear {
		dst.SeasonYear = src.SeasonYear
		changed = true
	}
	setNullInt32(&dst.SeasonType, src.SeasonType, &changed)
	setNullInt32(&dst.Week, src.Week, &changed)
	if !dst.ScheduledAt.Equal(src.ScheduledAt) {
		dst.ScheduledAt = src.ScheduledAt
		changed = true
	}
	if dst.Completed != src.Completed {
		dst.Completed = src.Completed
		changed = true
	}
	setNullString(&dst.Venue, src.Venue, &changed)
	return changed
}

// mergeParticipant copies result fields from src onto dst and reports whether
// anything changed. A score already recorded is not erased by a missing one.
func mergeParticipant(dst, src *models.EventParticipant) bool {
	changed := false
	if dst.IsHome != src.IsHome {
		dst.IsHome = src.IsHome
		changed = true
	}
	setNullInt32(&dst.Score, src.Score, &changed)
	if dst.IsWinner != src.IsWinner {
		dst.IsWinner = src.IsWinner
		changed = true
	}
	setNullInt32(&dst.Position, src.Position, &changed)
	return changed
}

func setString(dst *string, v string, changed *bool) {
	if v != "" && *dst != v {
		*dst = v
		*changed = true
	}
}

func setNullString(dst *sql.NullString, v sql.NullString, changed *bool) {
	if v.Valid && *dst != v {
		*dst = v
		*changed = true
	}
}

func setNullInt32(dst *sql.NullInt32, v sql.NullInt32, changed *bool) {
	if v.Valid && *dst != v {
		*dst = v
		*changed = true
	}
}
