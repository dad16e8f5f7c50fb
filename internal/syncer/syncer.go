// Package syncer runs the per-class sync pipeline:
// resolve season, compute window, fetch, map, reconcile.
//
// Each class runs under a lease so the scheduler, the admin API and the CLI
// never reconcile the same class at the same time. A class that fails does
// not stop the others in a full sync.
package syncer

import (
	"context"
	"errors"
	"time"

	"pickem/ingestion/internal/cache"
	"pickem/ingestion/internal/mapper"
	"pickem/ingestion/internal/metrics"
	"pickem/ingestion/internal/models"
	"pickem/ingestion/internal/reconcile"
	"pickem/ingestion/internal/season"
	"pickem/ingestion/internal/window"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sync classes
const (
	ClassCompetitors = "competitors"
	ClassEvents      = "events"
	ClassFull        = "full"
)

// Pipeline stages
const (
	StageResolveSeason = "resolve_season"
	StageComputeWindow = "compute_window"
	StageFetch         = "fetch"
	StageMap           = "map"
	StageReconcile     = "reconcile"
	StageDone          = "done"
)

// Run outcomes
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// maxReportedWarnings caps the warnings carried on a result
const maxReportedWarnings = 50

// Fetcher is the upstream schedule source. Nil payloads mean no data.
type Fetcher interface {
	FetchTeams(ctx context.Context, limit int) ([]byte, error)
	FetchScoreboard(ctx context.Context, w models.SyncWindow, limit int) ([]byte, error)
}

// SeasonResolver answers season queries
type SeasonResolver interface {
	CurrentSeason(ctx context.Context) int
	SeasonBoundaries(ctx context.Context, year int) season.Boundaries
}

// Reconciler merges mapped records into the store
type Reconciler interface {
	UpsertCompetitors(ctx context.Context, batch []*models.Competitor) (reconcile.Result, error)
	UpsertEvents(ctx context.Context, batch []*models.Event) (reconcile.Result, error)
}

// Locker grants exclusive leases
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), acquired bool, err error)
}

// RunStore keeps the last result of each class
type RunStore interface {
	SaveRun(ctx context.Context, key string, v any) error
	LoadRun(ctx context.Context, key string, v any) (bool, error)
}

// Options configures a Syncer
type Options struct {
	Sport       string
	DaysBack    int
	DaysForward int
	ResultLimit int
	LockTTL     time.Duration
	Policy      window.Policy
	Now         func() time.Time
}

// ClassResult reports one class's run
type ClassResult struct {
	RunID        string        `json:"run_id"`
	Class        string        `json:"class"`
	Status       string        `json:"status"`
	Count        int           `json:"count"`
	Inserted     int           `json:"inserted"`
	Updated      int           `json:"updated"`
	Unchanged    int           `json:"unchanged"`
	Season       int           `json:"season,omitempty"`
	Window       string        `json:"window,omitempty"`
	FailedStage  string        `json:"failed_stage,omitempty"`
	Error        string        `json:"error,omitempty"`
	WarningCount int           `json:"warning_count"`
	Warnings     []string      `json:"warnings,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
}

// OK returns true unless the run failed. A skipped run is not a failure.
func (r ClassResult) OK() bool {
	return r.Status != StatusFailed
}

// FullResult reports a full sync
type FullResult struct {
	Competitors ClassResult `json:"competitors"`
	Events      ClassResult `json:"events"`
}

// OK returns true if neither class failed
func (r FullResult) OK() bool {
	return r.Competitors.OK() && r.Events.OK()
}

// Syncer orchestrates sync runs
type Syncer struct {
	fetcher    Fetcher
	seasons    SeasonResolver
	reconciler Reconciler
	locker     Locker
	runs       RunStore
	opts       Options
}

// New creates a Syncer. Locker and RunStore default to a process-local store.
func New(fetcher Fetcher, seasons SeasonResolver, reconciler Reconciler, locker Locker, runs RunStore, opts Options) *Syncer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Policy.SeasonStartMonth == 0 {
		opts.Policy = window.DefaultPolicy
	}
	if locker == nil || runs == nil {
		local := cache.NewLocal()
		if locker == nil {
			locker = local
		}
		if runs == nil {
			runs = local
		}
	}

	return &Syncer{
		fetcher:    fetcher,
		seasons:    seasons,
		reconciler: reconciler,
		locker:     locker,
		runs:       runs,
		opts:       opts,
	}
}

// pipeline tracks the stage a run has reached
type pipeline struct {
	stage  string
	result *ClassResult
}

func (p *pipeline) enter(stage string) {
	p.stage = stage
}

// run wraps a class pipeline with its lease, run id, logging, metrics and status
func (s *Syncer) run(ctx context.Context, class string, fn func(ctx context.Context, p *pipeline) error) ClassResult {
	started := s.opts.Now()
	res := ClassResult{
		RunID:     uuid.NewString(),
		Class:     class,
		StartedAt: started.UTC(),
	}

	logger := log.With().Str("run_id", res.RunID).Str("class", class).Logger()
	ctx = logger.WithContext(ctx)

	unlock, acquired, err := s.locker.TryLock(ctx, cache.LockKey(s.opts.Sport, class), s.opts.LockTTL)
	switch {
	case err != nil:
		// Lease store unreachable: run unguarded
		logger.Warn().Err(err).Msg("Sync lease unavailable, running without it")
	case !acquired:
		logger.Info().Msg("Sync already running elsewhere, skipping")
		res.Status = StatusSkipped
		metrics.RecordSync(class, StatusSkipped, 0, 0)
		return res
	default:
		defer unlock()
	}

	logger.Info().Msg("Sync started")

	p := &pipeline{result: &res}
	if err := fn(ctx, p); err != nil {
		res.Status = StatusFailed
		res.FailedStage = p.stage
		res.Error = err.Error()
		metrics.RecordError("syncer", p.stage)
	} else {
		res.Status = StatusSuccess
		p.enter(StageDone)
	}

	res.Duration = s.opts.Now().Sub(started)
	res.DurationMS = res.Duration.Milliseconds()

	metrics.RecordSync(class, res.Status, res.Count, res.Duration.Seconds())

	event := logger.Info()
	if res.Status == StatusFailed {
		event = logger.Error().Str("stage", res.FailedStage).Str("error", res.Error)
	}
	event.
		Int("count", res.Count).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("warnings", res.WarningCount).
		Dur("duration", res.Duration).
		Msg("Sync finished")

	s.saveRun(ctx, class, res)
	return res
}

func (s *Syncer) saveRun(ctx context.Context, class string, res ClassResult) {
	// Persist even when the run was cancelled
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := s.runs.SaveRun(sctx, cache.LastRunKey(s.opts.Sport, class), res); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to store sync status")
	}
}

// LastRun returns the stored result of the last run of class
func (s *Syncer) LastRun(ctx context.Context, class string) (*ClassResult, error) {
	var res ClassResult
	found, err := s.runs.LoadRun(ctx, cache.LastRunKey(s.opts.Sport, class), &res)
	if err != nil || !found {
		return nil, err
	}
	return &res, nil
}

// SyncCompetitors fetches and reconciles every competitor of the sport
func (s *Syncer) SyncCompetitors(ctx context.Context) ClassResult {
	return s.run(ctx, ClassCompetitors, func(ctx context.Context, p *pipeline) error {
		// Competitors are not season-scoped; the resolve and window stages are no-ops
		p.enter(StageFetch)
		payload, err := s.fetcher.FetchTeams(ctx, s.opts.ResultLimit)
		if err != nil {
			return err
		}
		if payload == nil {
			zerolog.Ctx(ctx).Info().Msg("No competitor data available")
			return nil
		}

		p.enter(StageMap)
		competitors, warnings, err := mapper.MapCompetitors(payload)
		if err != nil {
			return err
		}
		s.recordWarnings(ctx, ClassCompetitors, p.result, warnings)

		p.enter(StageReconcile)
		rec, err := s.reconciler.UpsertCompetitors(ctx, competitors)
		if err != nil {
			return err
		}
		applyResult(p.result, rec)
		return nil
	})
}

// SyncEvents syncs the rolling window around now for the current season
func (s *Syncer) SyncEvents(ctx context.Context) ClassResult {
	return s.run(ctx, ClassEvents, func(ctx context.Context, p *pipeline) error {
		p.enter(StageResolveSeason)
		year := s.seasons.CurrentSeason(ctx)

		p.enter(StageComputeWindow)
		w := s.opts.Policy.Compute(s.opts.Now(), s.opts.DaysBack, s.opts.DaysForward)

		return s.syncWindow(ctx, p, year, w)
	})
}

// SyncEventsForSeason syncs every event of a season, bounded by the provider horizon
func (s *Syncer) SyncEventsForSeason(ctx context.Context, year int) ClassResult {
	return s.run(ctx, ClassEvents, func(ctx context.Context, p *pipeline) error {
		p.enter(StageResolveSeason)
		if year <= 0 {
			return errors.New("season year must be positive")
		}
		b := s.seasons.SeasonBoundaries(ctx, year)

		p.enter(StageComputeWindow)
		// Boundaries are inclusive; the window end is exclusive
		w := s.opts.Policy.Clamp(s.opts.Now(), b.Start, b.End.AddDate(0, 0, 1))

		return s.syncWindow(ctx, p, year, w)
	})
}

// SyncEventsRange syncs events scheduled in [start, end), bounded by the provider horizon
func (s *Syncer) SyncEventsRange(ctx context.Context, start, end time.Time) ClassResult {
	return s.run(ctx, ClassEvents, func(ctx context.Context, p *pipeline) error {
		p.enter(StageResolveSeason)
		if end.Before(start) {
			return errors.New("range end precedes start")
		}
		year := s.seasons.CurrentSeason(ctx)

		p.enter(StageComputeWindow)
		w := s.opts.Policy.Clamp(s.opts.Now(), start, end)

		return s.syncWindow(ctx, p, year, w)
	})
}

// SyncLiveEvents refreshes yesterday through tomorrow, where in-progress events live
func (s *Syncer) SyncLiveEvents(ctx context.Context) ClassResult {
	now := s.opts.Now()
	return s.SyncEventsRange(ctx, now.AddDate(0, 0, -1), now.AddDate(0, 0, 2))
}

func (s *Syncer) syncWindow(ctx context.Context, p *pipeline, year int, w models.SyncWindow) error {
	p.result.Season = year
	p.result.Window = w.String()

	logger := zerolog.Ctx(ctx)
	logger.Debug().Int("season", year).Str("window", w.String()).Msg("Sync window computed")

	p.enter(StageFetch)
	payload, err := s.fetcher.FetchScoreboard(ctx, w, s.opts.ResultLimit)
	if err != nil {
		return err
	}
	if payload == nil {
		logger.Info().Str("window", w.String()).Msg("No event data available")
		return nil
	}

	p.enter(StageMap)
	events, warnings, err := mapper.MapEvents(payload, year)
	if err != nil {
		return err
	}
	s.recordWarnings(ctx, ClassEvents, p.result, warnings)

	p.enter(StageReconcile)
	rec, err := s.reconciler.UpsertEvents(ctx, events)
	if err != nil {
		return err
	}
	applyResult(p.result, rec)
	return nil
}

// FullSync runs competitors then events. A failure in one does not prevent the other.
func (s *Syncer) FullSync(ctx context.Context) FullResult {
	res := FullResult{
		Competitors: s.SyncCompetitors(ctx),
		Events:      s.SyncEvents(ctx),
	}

	status := StatusSuccess
	if !res.OK() {
		status = StatusFailed
	}
	metrics.RecordSync(ClassFull, status, res.Competitors.Count+res.Events.Count,
		(res.Competitors.Duration + res.Events.Duration).Seconds())

	s.saveRun(ctx, ClassFull, ClassResult{
		RunID:      uuid.NewString(),
		Class:      ClassFull,
		Status:     status,
		Count:      res.Competitors.Count + res.Events.Count,
		StartedAt:  res.Competitors.StartedAt,
		Duration:   res.Competitors.Duration + res.Events.Duration,
		DurationMS: (res.Competitors.Duration + res.Events.Duration).Milliseconds(),
	})

	return res
}

// CurrentSeason returns the active season year
func (s *Syncer) CurrentSeason(ctx context.Context) int {
	return s.seasons.CurrentSeason(ctx)
}

// SeasonBoundaries returns the date range of a season
func (s *Syncer) SeasonBoundaries(ctx context.Context, year int) season.Boundaries {
	return s.seasons.SeasonBoundaries(ctx, year)
}

func (s *Syncer) recordWarnings(ctx context.Context, class string, res *ClassResult, warnings []mapper.Warning) {
	if len(warnings) == 0 {
		return
	}
	metrics.RecordMappingWarnings(class, len(warnings))
	res.WarningCount = len(warnings)

	logger := zerolog.Ctx(ctx)
	for i, w := range warnings {
		if i < maxReportedWarnings {
			res.Warnings = append(res.Warnings, w.String())
		}
		logger.Debug().Int("index", w.Index).Str("external_id", w.ExternalID).Str("reason", w.Reason).Msg("Skipped record")
	}
	logger.Warn().Int("skipped", len(warnings)).Msg("Some records could not be mapped")
}

func applyResult(res *ClassResult, rec reconcile.Result) {
	res.Inserted = rec.Inserted
	res.Updated = rec.Updated
	res.Unchanged = rec.Unchanged
	res.Count = rec.Total()
}
