package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pickem/ingestion/internal/cache"
	"pickem/ingestion/internal/models"
	"pickem/ingestion/internal/reconcile"
	"pickem/ingestion/internal/repository/memstore"
	"pickem/ingestion/internal/season"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSport = "football/nfl"

const twoEvents = `{
  "season": {"year": 2025, "type": 2},
  "week": {"number": 5},
  "events": [
    {
      "id": "401",
      "name": "Bills at Patriots",
      "date": "2025-10-05T17:00Z",
      "status": {"type": {"state": "post", "completed": true}},
      "competitions": [{"competitors": [
        {"homeAway": "home", "team": {"id": "17", "displayName": "New England Patriots"}, "score": "20", "winner": false},
        {"homeAway": "away", "team": {"id": "2", "displayName": "Buffalo Bills"}, "score": "23", "winner": true}
      ]}]
    },
    {
      "id": "402",
      "name": "Jets at Dolphins",
      "date": "2025-10-06T00:20Z",
      "status": {"type": {"state": "pre", "completed": false}},
      "competitions": [{"competitors": [
        {"homeAway": "home", "team": {"id": "15", "displayName": "Miami Dolphins"}},
        {"homeAway": "away", "team": {"id": "20", "displayName": "New York Jets"}}
      ]}]
    },
    {"id": "403", "name": "", "date": "2025-10-06T00:20Z"}
  ]
}`

const teams = `{"sports": [{"leagues": [{"teams": [
  {"team": {"id": "17", "displayName": "New England Patriots", "abbreviation": "NE"}},
  {"team": {"id": "2", "displayName": "Buffalo Bills", "abbreviation": "BUF"}}
]}]}]}`

type fakeFetcher struct {
	mu         sync.Mutex
	teams      []byte
	scoreboard []byte
	err        error
	windows    []models.SyncWindow
	calls      int
}

func (f *fakeFetcher) FetchTeams(context.Context, int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.teams, f.err
}

func (f *fakeFetcher) FetchScoreboard(_ context.Context, w models.SyncWindow, _ int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.windows = append(f.windows, w)
	return f.scoreboard, f.err
}

type fakeSeasons struct {
	year   int
	bounds season.Boundaries
}

func (f fakeSeasons) CurrentSeason(context.Context) int { return f.year }

func (f fakeSeasons) SeasonBoundaries(_ context.Context, year int) season.Boundaries {
	b := f.bounds
	b.Year = year
	return b
}

type brokenLocker struct{}

func (brokenLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("dial tcp: connection refused")
}

var testNow = time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)

func newSyncer(fetcher Fetcher, store *memstore.Store, locker Locker, runs RunStore) *Syncer {
	return New(fetcher, fakeSeasons{year: 2025}, reconcile.NewEngine(store), locker, runs, Options{
		Sport:       testSport,
		DaysBack:    7,
		DaysForward: 14,
		ResultLimit: 1000,
		Now:         func() time.Time { return testNow },
	})
}

func TestSyncEvents_Success(t *testing.T) {
	store := memstore.New()
	fetcher := &fakeFetcher{scoreboard: []byte(twoEvents)}
	local := cache.NewLocal()
	s := newSyncer(fetcher, store, local, local)

	res := s.SyncEvents(context.Background())
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.WarningCount, "The nameless record is skipped")
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, 2025, res.Season)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.FailedStage)

	require.Len(t, fetcher.windows, 1)
	assert.Equal(t, time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), fetcher.windows[0].Start)
	assert.Equal(t, time.Date(2025, 10, 21, 0, 0, 0, 0, time.UTC), fetcher.windows[0].End)
	assert.Equal(t, "2025-09-30..2025-10-21", res.Window)

	assert.Equal(t, 2, store.EventCount())
	assert.Len(t, store.Competitors(), 4, "Participants create their competitors")

	last, err := s.LastRun(context.Background(), ClassEvents)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, res.RunID, last.RunID)
	assert.Equal(t, StatusSuccess, last.Status)

	// A second run changes nothing but still reports every record
	again := s.SyncEvents(context.Background())
	assert.Equal(t, 2, again.Count)
	assert.Equal(t, 2, again.Unchanged)
	assert.Equal(t, 2, store.EventCount())
}

func TestSyncEvents_NoDataIsSuccess(t *testing.T) {
	store := memstore.New()
	s := newSyncer(&fakeFetcher{}, store, nil, nil)

	res := s.SyncEvents(context.Background())
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Zero(t, res.Count)
	assert.Zero(t, store.EventCount())
}

func TestFullSync_IsolatesFailures(t *testing.T) {
	store := memstore.New()
	fetcher := &fakeFetcher{
		teams:      []byte(`<html>maintenance</html>`),
		scoreboard: []byte(twoEvents),
	}
	s := newSyncer(fetcher, store, nil, nil)

	res := s.FullSync(context.Background())
	assert.False(t, res.OK())

	assert.Equal(t, StatusFailed, res.Competitors.Status)
	assert.Equal(t, StageMap, res.Competitors.FailedStage)
	assert.NotEmpty(t, res.Competitors.Error)

	assert.Equal(t, StatusSuccess, res.Events.Status, "A failed class does not stop the next one")
	assert.Equal(t, 2, res.Events.Count)

	last, err := s.LastRun(context.Background(), ClassFull)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, StatusFailed, last.Status)
}

func TestFullSync_Success(t *testing.T) {
	store := memstore.New()
	fetcher := &fakeFetcher{teams: []byte(teams), scoreboard: []byte(twoEvents)}
	s := newSyncer(fetcher, store, nil, nil)

	res := s.FullSync(context.Background())
	assert.True(t, res.OK())
	assert.Equal(t, 2, res.Competitors.Count)
	assert.Equal(t, 2, res.Events.Count)
	assert.Len(t, store.Competitors(), 4, "Synced competitors are reused by events")
}

func TestSyncEvents_ReconcileFailureRollsBack(t *testing.T) {
	store := memstore.New()
	store.FailOn = func(op string, _ int) error {
		if op == "insert_participant" {
			return errors.New("constraint violation")
		}
		return nil
	}
	s := newSyncer(&fakeFetcher{scoreboard: []byte(twoEvents)}, store, nil, nil)

	res := s.SyncEvents(context.Background())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageReconcile, res.FailedStage)
	assert.Contains(t, res.Error, "constraint violation")
	assert.Zero(t, store.EventCount())
}

func TestSyncEvents_FetchCancelled(t *testing.T) {
	fetcher := &fakeFetcher{err: context.Canceled}
	s := newSyncer(fetcher, memstore.New(), nil, nil)

	res := s.SyncEvents(context.Background())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageFetch, res.FailedStage)
}

func TestSync_SkippedWhileLeaseHeld(t *testing.T) {
	local := cache.NewLocal()
	fetcher := &fakeFetcher{scoreboard: []byte(twoEvents)}
	s := newSyncer(fetcher, memstore.New(), local, local)

	unlock, ok, err := local.TryLock(context.Background(), cache.LockKey(testSport, ClassEvents), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res := s.SyncEvents(context.Background())
	assert.Equal(t, StatusSkipped, res.Status)
	assert.True(t, res.OK(), "Skipping is not a failure")
	assert.Zero(t, fetcher.calls)

	unlock()
	res = s.SyncEvents(context.Background())
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestSync_RunsWithoutLeaseWhenLockerFails(t *testing.T) {
	store := memstore.New()
	s := newSyncer(&fakeFetcher{scoreboard: []byte(twoEvents)}, store, brokenLocker{}, cache.NewLocal())

	res := s.SyncEvents(context.Background())
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, store.EventCount())
}

func TestSyncEventsForSeason_UsesInclusiveBoundaries(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(fetcher, fakeSeasons{year: 2025, bounds: season.Boundaries{
		Start:  time.Date(2024, 9, 5, 0, 20, 0, 0, time.UTC),
		End:    time.Date(2025, 2, 10, 7, 59, 0, 0, time.UTC),
		Source: season.TierPersisted,
	}}, reconcile.NewEngine(memstore.New()), nil, nil, Options{
		Sport: testSport,
		Now:   func() time.Time { return testNow },
	})

	res := s.SyncEventsForSeason(context.Background(), 2024)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2024, res.Season)

	require.Len(t, fetcher.windows, 1)
	assert.Equal(t, time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC), fetcher.windows[0].Start)
	assert.Equal(t, time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC), fetcher.windows[0].End)
}

func TestSyncEventsForSeason_InvalidYear(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := newSyncer(fetcher, memstore.New(), nil, nil)

	res := s.SyncEventsForSeason(context.Background(), 0)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StageResolveSeason, res.FailedStage)
	assert.Zero(t, fetcher.calls)
}

func TestSyncEventsRange(t *testing.T) {
	t.Run("reversed range fails before fetching", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		s := newSyncer(fetcher, memstore.New(), nil, nil)

		res := s.SyncEventsRange(context.Background(), testNow, testNow.AddDate(0, 0, -3))
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, StageResolveSeason, res.FailedStage)
		assert.Zero(t, fetcher.calls)
	})

	t.Run("far future is clamped to the horizon", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		s := newSyncer(fetcher, memstore.New(), nil, nil)

		res := s.SyncEventsRange(context.Background(),
			time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, StatusSuccess, res.Status)

		require.Len(t, fetcher.windows, 1)
		assert.Equal(t, time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC), fetcher.windows[0].End)
	})
}

func TestSyncLiveEvents_CoversYesterdayThroughTomorrow(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := newSyncer(fetcher, memstore.New(), nil, nil)

	s.SyncLiveEvents(context.Background())

	require.Len(t, fetcher.windows, 1)
	assert.Equal(t, time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC), fetcher.windows[0].Start)
	assert.Equal(t, time.Date(2025, 10, 9, 0, 0, 0, 0, time.UTC), fetcher.windows[0].End)
}

func TestLastRun_NeverRun(t *testing.T) {
	s := newSyncer(&fakeFetcher{}, memstore.New(), nil, nil)

	last, err := s.LastRun(context.Background(), ClassCompetitors)
	assert.NoError(t, err)
	assert.Nil(t, last)
}
