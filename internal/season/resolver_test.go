package season

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pickem/ingestion/internal/models"
	"pickem/ingestion/internal/repository/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sport = "football/nfl"

type fakeFetcher struct {
	mu          sync.Mutex
	current     *models.SeasonRef
	seasons     map[int]*models.SeasonInput
	infoCalls   int
	seasonCalls int
}

func (f *fakeFetcher) FetchCurrentSeasonInfo(context.Context) (*models.SeasonRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	return f.current, nil
}

func (f *fakeFetcher) FetchSeason(_ context.Context, year int) (*models.SeasonInput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seasonCalls++
	return f.seasons[year], nil
}

// failingStore returns err from every read
type failingStore struct {
	*memstore.Store
	err error
}

func (s failingStore) GetActiveSeason(context.Context, string) (*models.Season, error) {
	return nil, s.err
}

func (s failingStore) GetSeason(context.Context, string, int) (*models.Season, error) {
	return nil, s.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newResolver(store Store, fetcher Fetcher, c *clock, override int) *Resolver {
	return NewResolver(store, fetcher, nil, Options{
		Sport:        sport,
		Override:     override,
		CacheTTL:     time.Hour,
		HeuristicTTL: 5 * time.Minute,
		Now:          c.Now,
	})
}

func persistSeason(t *testing.T, store *memstore.Store, year int, now time.Time) {
	t.Helper()
	s, err := models.NewSeason(sport, year,
		time.Date(year, 9, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year+1, 2, 15, 0, 0, 0, 0, time.UTC),
		now,
	)
	require.NoError(t, err)
	require.NoError(t, store.UpsertSeason(context.Background(), s))
}

func TestCurrentSeason_OverrideWins(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New()
	persistSeason(t, store, 2025, c.now)
	fetcher := &fakeFetcher{current: &models.SeasonRef{Year: 2025}}

	r := newResolver(store, fetcher, c, 2019)
	r.cache.Set(2024, time.Hour)

	assert.Equal(t, 2019, r.CurrentSeason(context.Background()))
	assert.Zero(t, fetcher.infoCalls, "An override short-circuits every other tier")
}

func TestCurrentSeason_PersistedBeforeRemote(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New()
	persistSeason(t, store, 2025, c.now)
	fetcher := &fakeFetcher{current: &models.SeasonRef{Year: 2030}}

	r := newResolver(store, fetcher, c, 0)
	r.cache.Set(2020, time.Minute)
	c.now = c.now.Add(2 * time.Minute) // expire the cached year

	assert.Equal(t, 2025, r.CurrentSeason(context.Background()))
	assert.Zero(t, fetcher.infoCalls, "A persisted active season is preferred over a remote lookup")

	entry, ok := r.cache.Entry()
	require.True(t, ok)
	assert.Equal(t, c.now.Add(time.Hour), entry.ExpiresAt)
}

func TestCurrentSeason_CacheHit(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{current: &models.SeasonRef{Year: 2025}}
	r := newResolver(memstore.New(), fetcher, c, 0)

	r.cache.Set(2024, time.Hour)

	assert.Equal(t, 2024, r.CurrentSeason(context.Background()))
	assert.Zero(t, fetcher.infoCalls)
}

func TestCurrentSeason_RemotePersists(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New()
	fetcher := &fakeFetcher{
		current: &models.SeasonRef{Year: 2025, Type: 2},
		seasons: map[int]*models.SeasonInput{
			2025: {
				Year:      2025,
				StartDate: "2025-07-31T07:00Z",
				EndDate:   "2026-02-12T07:59Z",
				Types: []models.SeasonTypeInput{
					{Name: "Preseason", StartDate: "2025-07-31T07:00Z", EndDate: "2025-09-04T06:59Z"},
					{Name: "Regular Season", StartDate: "2025-09-04T07:00Z", EndDate: "2026-01-07T07:59Z"},
				},
			},
		},
	}
	r := newResolver(store, fetcher, c, 0)

	assert.Equal(t, 2025, r.CurrentSeason(context.Background()))
	assert.Equal(t, 1, fetcher.infoCalls)

	persisted, err := store.GetSeason(context.Background(), sport, 2025)
	require.NoError(t, err)
	assert.True(t, persisted.IsActive)
	assert.Equal(t, "Regular Season", persisted.Type.String)

	// The next call is served from the cache
	assert.Equal(t, 2025, r.CurrentSeason(context.Background()))
	assert.Equal(t, 1, fetcher.infoCalls)
}

func TestCurrentSeason_HeuristicUsesShortTTL(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{}
	r := newResolver(memstore.New(), fetcher, c, 0)

	assert.Equal(t, 2024, r.CurrentSeason(context.Background()), "March belongs to the previous season")

	entry, ok := r.cache.Entry()
	require.True(t, ok)
	assert.Equal(t, c.now.Add(5*time.Minute), entry.ExpiresAt)

	c.now = c.now.Add(6 * time.Minute)
	fetcher.current = &models.SeasonRef{Year: 2024}
	assert.Equal(t, 2024, r.CurrentSeason(context.Background()))
	assert.Equal(t, 2, fetcher.infoCalls, "A heuristic answer is revalidated once it expires")
}

func TestCurrentSeason_StoreErrorDegrades(t *testing.T) {
	c := &clock{now: time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)}
	store := failingStore{Store: memstore.New(), err: errors.New("connection refused")}
	r := newResolver(store, &fakeFetcher{}, c, 0)

	assert.Equal(t, 2025, r.CurrentSeason(context.Background()))
}

func TestSeasonBoundaries_Tiers(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New()
	persistSeason(t, store, 2023, c.now)
	fetcher := &fakeFetcher{seasons: map[int]*models.SeasonInput{
		2024: {Year: 2024, StartDate: "2024-08-01T07:00Z", EndDate: "2025-02-13T07:59Z"},
	}}
	r := newResolver(store, fetcher, c, 0)
	ctx := context.Background()

	persisted := r.SeasonBoundaries(ctx, 2023)
	assert.Equal(t, TierPersisted, persisted.Source)
	assert.Equal(t, time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC), persisted.Start)
	assert.Zero(t, fetcher.seasonCalls)

	remote := r.SeasonBoundaries(ctx, 2024)
	assert.Equal(t, TierRemote, remote.Source)
	assert.Equal(t, time.Date(2024, 8, 1, 7, 0, 0, 0, time.UTC), remote.Start)
	assert.Equal(t, time.Date(2025, 2, 13, 7, 59, 0, 0, time.UTC), remote.End)

	_, err := store.GetSeason(ctx, sport, 2024)
	assert.NoError(t, err, "Remote boundaries are persisted")

	estimate := r.SeasonBoundaries(ctx, 2022)
	assert.Equal(t, TierEstimate, estimate.Source)
	assert.Equal(t, time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC), estimate.Start)
	assert.Equal(t, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC), estimate.End)
}

func TestSeasonBoundaries_MalformedRemoteFallsBack(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{seasons: map[int]*models.SeasonInput{
		2024: {Year: 2024, StartDate: "soon", EndDate: "later"},
	}}
	r := newResolver(memstore.New(), fetcher, c, 0)

	b := r.SeasonBoundaries(context.Background(), 2024)
	assert.Equal(t, TierEstimate, b.Source)
}

func TestRefreshActive(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New()
	persistSeason(t, store, 2025, c.now)
	r := newResolver(store, &fakeFetcher{}, c, 0)
	r.cache.Set(2025, time.Hour)

	c.now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	changed, err := r.RefreshActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	_, ok := r.cache.Get()
	assert.False(t, ok, "Refreshing flags drops the cached year")

	_, err = store.GetActiveSeason(context.Background(), sport)
	assert.Error(t, err)
}

func TestCurrentSeason_Concurrent(t *testing.T) {
	c := &clock{now: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)}
	store := memstore.New()
	persistSeason(t, store, 2025, c.now)
	r := newResolver(store, &fakeFetcher{}, c, 0)

	var wg sync.WaitGroup
	results := make([]int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.CurrentSeason(context.Background())
		}(i)
	}
	wg.Wait()

	for _, year := range results {
		assert.Equal(t, 2025, year)
	}
}
