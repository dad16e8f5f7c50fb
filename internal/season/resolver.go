// Package season resolves which season is current and where its boundaries lie.
//
// Both queries walk a fallback chain from the cheapest and most authoritative
// source down to a calendar estimate, so callers always get an answer. Store
// and upstream faults are logged and degrade to the next tier.
package season

import (
	"context"
	"errors"
	"time"

	"pickem/ingestion/internal/metrics"
	"pickem/ingestion/internal/models"
	"pickem/ingestion/internal/repository"
	"pickem/ingestion/internal/window"

	"github.com/rs/zerolog/log"
)

// Resolution tiers, reported in metrics and logs
const (
	TierOverride  = "override"
	TierCache     = "cache"
	TierPersisted = "persisted"
	TierRemote    = "remote"
	TierHeuristic = "heuristic"
	TierEstimate  = "estimate"
)

// Store is the persisted season collaborator
type Store interface {
	// GetActiveSeason returns repository.ErrNotFound when no season is flagged active
	GetActiveSeason(ctx context.Context, sport string) (*models.Season, error)
	// GetSeason returns repository.ErrNotFound when the year is unknown
	GetSeason(ctx context.Context, sport string, year int) (*models.Season, error)
	UpsertSeason(ctx context.Context, season *models.Season) error
	RefreshActiveFlags(ctx context.Context, sport string, now time.Time) (int64, error)
}

// Fetcher is the upstream season source. Nil results mean no data.
type Fetcher interface {
	FetchCurrentSeasonInfo(ctx context.Context) (*models.SeasonRef, error)
	FetchSeason(ctx context.Context, year int) (*models.SeasonInput, error)
}

// Options configures a Resolver
type Options struct {
	Sport string
	// Override pins the current season when positive
	Override     int
	CacheTTL     time.Duration
	HeuristicTTL time.Duration
	Policy       window.Policy
	Now          func() time.Time
}

// Boundaries is the date range of a season and the tier that supplied it
type Boundaries struct {
	Year   int       `json:"year"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}

// Resolver answers season queries through the fallback chain
type Resolver struct {
	store   Store
	fetcher Fetcher
	cache   *Cache
	opts    Options
}

// NewResolver creates a resolver. A nil cache gets a fresh one on the same clock.
func NewResolver(store Store, fetcher Fetcher, cache *Cache, opts Options) *Resolver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.HeuristicTTL <= 0 {
		opts.HeuristicTTL = 5 * time.Minute
	}
	if opts.Policy.SeasonStartMonth == 0 {
		opts.Policy = window.DefaultPolicy
	}
	if cache == nil {
		cache = NewCache(opts.Now)
	}

	return &Resolver{
		store:   store,
		fetcher: fetcher,
		cache:   cache,
		opts:    opts,
	}
}

// Policy returns the calendar policy the resolver estimates with
func (r *Resolver) Policy() window.Policy {
	return r.opts.Policy
}

// CurrentSeason returns the active season year. It never fails.
func (r *Resolver) CurrentSeason(ctx context.Context) int {
	year, tier := r.currentSeason(ctx)
	metrics.RecordSeasonResolution("current", tier)

	log.Debug().
		Int("season", year).
		Str("tier", tier).
		Msg("Resolved current season")

	return year
}

func (r *Resolver) currentSeason(ctx context.Context) (int, string) {
	if r.opts.Override > 0 {
		return r.opts.Override, TierOverride
	}

	if year, ok := r.cache.Get(); ok {
		metrics.RecordCacheHit()
		return year, TierCache
	}
	metrics.RecordCacheMiss()

	active, err := r.store.GetActiveSeason(ctx, r.opts.Sport)
	switch {
	case err == nil && active != nil:
		r.cache.Set(active.Year, r.opts.CacheTTL)
		return active.Year, TierPersisted
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		log.Warn().Err(err).Str("sport", r.opts.Sport).Msg("Failed to load active season, trying upstream")
	}

	if year, ok := r.remoteCurrentSeason(ctx); ok {
		r.cache.Set(year, r.opts.CacheTTL)
		return year, TierRemote
	}

	year := r.opts.Policy.CycleYear(r.opts.Now().UTC())
	r.cache.Set(year, r.opts.HeuristicTTL)
	return year, TierHeuristic
}

// remoteCurrentSeason asks upstream for the current season and persists its
// boundaries. The year is still returned when persisting fails.
func (r *Resolver) remoteCurrentSeason(ctx context.Context) (int, bool) {
	if ctx.Err() != nil {
		return 0, false
	}

	ref, err := r.fetcher.FetchCurrentSeasonInfo(ctx)
	if err != nil || ref == nil {
		return 0, false
	}

	if _, err := r.fetchAndPersist(ctx, ref.Year); err != nil {
		log.Warn().Err(err).Int("season", ref.Year).Msg("Failed to persist upstream season")
	}
	return ref.Year, true
}

// SeasonBoundaries returns the date range of year. It never fails.
func (r *Resolver) SeasonBoundaries(ctx context.Context, year int) Boundaries {
	b := r.seasonBoundaries(ctx, year)
	metrics.RecordSeasonResolution("boundaries", b.Source)
	return b
}

func (r *Resolver) seasonBoundaries(ctx context.Context, year int) Boundaries {
	persisted, err := r.store.GetSeason(ctx, r.opts.Sport, year)
	switch {
	case err == nil && persisted != nil:
		return Boundaries{Year: year, Start: persisted.StartDate, End: persisted.EndDate, Source: TierPersisted}
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		log.Warn().Err(err).Int("season", year).Msg("Failed to load season boundaries, trying upstream")
	}

	if ctx.Err() == nil {
		s, err := r.fetchAndPersist(ctx, year)
		if s != nil {
			if err != nil {
				log.Warn().Err(err).Int("season", year).Msg("Failed to persist upstream season")
			}
			return Boundaries{Year: year, Start: s.StartDate, End: s.EndDate, Source: TierRemote}
		}
		if err != nil {
			log.Warn().Err(err).Int("season", year).Msg("Upstream season unusable")
		}
	}

	start, end := r.EstimateBoundaries(year)
	return Boundaries{Year: year, Start: start, End: end, Source: TierEstimate}
}

// EstimateBoundaries returns the calendar estimate for year: the first day of
// the start month through the last day of the end month
func (r *Resolver) EstimateBoundaries(year int) (time.Time, time.Time) {
	p := r.opts.Policy
	start := time.Date(year, p.SeasonStartMonth, 1, 0, 0, 0, 0, time.UTC)
	end := p.CycleEnd(year).AddDate(0, 0, -1)
	return start, end
}

// fetchAndPersist loads year from upstream and upserts it. A nil season means
// upstream had no usable data; a non-nil season with an error means the
// upstream data was good but could not be stored.
func (r *Resolver) fetchAndPersist(ctx context.Context, year int) (*models.Season, error) {
	input, err := r.fetcher.FetchSeason(ctx, year)
	if err != nil || input == nil {
		return nil, err
	}

	s, err := seasonFromInput(r.opts.Sport, input, r.opts.Now())
	if err != nil {
		return nil, err
	}

	if err := r.store.UpsertSeason(ctx, s); err != nil {
		return s, err
	}

	log.Info().
		Int("season", s.Year).
		Time("start", s.StartDate).
		Time("end", s.EndDate).
		Bool("active", s.IsActive).
		Msg("Stored upstream season")

	return s, nil
}

// RefreshActive recomputes every season's active flag and drops the cached year
func (r *Resolver) RefreshActive(ctx context.Context) (int64, error) {
	changed, err := r.store.RefreshActiveFlags(ctx, r.opts.Sport, r.opts.Now().UTC())
	if err != nil {
		return 0, err
	}
	r.cache.Clear()
	return changed, nil
}

func seasonFromInput(sport string, in *models.SeasonInput, now time.Time) (*models.Season, error) {
	start, err := models.ParseProviderTime(in.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := models.ParseProviderTime(in.EndDate)
	if err != nil {
		return nil, err
	}

	s, err := models.NewSeason(sport, in.Year, start, end, now)
	if err != nil {
		return nil, err
	}
	if in.DisplayName != "" {
		s.DisplayName = in.DisplayName
	}
	s.Type = models.NullString(currentTypeName(in.Types, now))
	return s, nil
}

// currentTypeName picks the season phase containing now, else the first listed phase
func currentTypeName(types []models.SeasonTypeInput, now time.Time) string {
	for _, t := range types {
		start, err1 := models.ParseProviderTime(t.StartDate)
		end, err2 := models.ParseProviderTime(t.EndDate)
		if err1 != nil || err2 != nil {
			continue
		}
		if !now.Before(start) && now.Before(end) {
			return t.Name
		}
	}
	if len(types) > 0 {
		return types[0].Name
	}
	return ""
}
