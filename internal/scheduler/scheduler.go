package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pickem/ingestion/internal/syncer"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Syncer is the sync surface the scheduler drives
type Syncer interface {
	FullSync(ctx context.Context) syncer.FullResult
	SyncEvents(ctx context.Context) syncer.ClassResult
	SyncLiveEvents(ctx context.Context) syncer.ClassResult
}

// SeasonRefresher recomputes persisted season active flags
type SeasonRefresher interface {
	RefreshActive(ctx context.Context) (int64, error)
}

// LiveEvents reports how many stored events are in progress
type LiveEvents interface {
	CountInProgress(ctx context.Context) (int, error)
}

// Options holds the schedules. Empty cron specs and a zero poll interval disable that job.
type Options struct {
	FullSyncCron      string
	EventSyncCron     string
	SeasonRefreshCron string
	LivePollInterval  time.Duration
}

// Scheduler runs sync jobs in the background:
// - Full sync (competitors, then events) on a cron schedule
// - Rolling event window sync on a tighter cron schedule
// - Season active-flag refresh nightly
// - Live event polling while any stored event is in progress
type Scheduler struct {
	opts     Options
	syncer   Syncer
	seasons  SeasonRefresher
	live     LiveEvents
	cron     *cron.Cron
	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler instance
func NewScheduler(opts Options, s Syncer, seasons SeasonRefresher, live LiveEvents) *Scheduler {
	return &Scheduler{
		opts:     opts,
		syncer:   s,
		seasons:  seasons,
		live:     live,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		stopChan: make(chan struct{}),
	}
}

// Start registers the cron jobs and starts live polling
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"full sync", s.opts.FullSyncCron, s.runFullSync},
		{"event sync", s.opts.EventSyncCron, s.runEventSync},
		{"season refresh", s.opts.SeasonRefreshCron, s.runSeasonRefresh},
	}

	for _, job := range jobs {
		if job.spec == "" {
			log.Info().Str("job", job.name).Msg("Job disabled")
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.spec, func() { run(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		log.Info().Str("job", job.name).Str("schedule", job.spec).Msg("Job scheduled")
	}

	s.cron.Start()

	if s.opts.LivePollInterval > 0 && s.live != nil {
		s.ticker = time.NewTicker(s.opts.LivePollInterval)
		log.Info().
			Dur("interval", s.opts.LivePollInterval).
			Msg("Live event polling started")

		s.wg.Add(1)
		go s.pollLiveEvents(ctx)
	}

	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Info().Msg("Stopping scheduler...")

		<-s.cron.Stop().Done()

		if s.ticker != nil {
			s.ticker.Stop()
		}

		close(s.stopChan)
		s.wg.Wait()
		log.Info().Msg("Scheduler stopped")
	})
}

func (s *Scheduler) runFullSync(ctx context.Context) {
	log.Info().Msg("Running scheduled full sync...")
	res := s.syncer.FullSync(ctx)
	if !res.OK() {
		log.Error().
			Str("competitors", res.Competitors.Status).
			Str("events", res.Events.Status).
			Msg("Scheduled full sync failed")
	}
}

func (s *Scheduler) runEventSync(ctx context.Context) {
	res := s.syncer.SyncEvents(ctx)
	if !res.OK() {
		log.Error().Str("stage", res.FailedStage).Str("error", res.Error).Msg("Scheduled event sync failed")
	}
}

func (s *Scheduler) runSeasonRefresh(ctx context.Context) {
	if s.seasons == nil {
		return
	}
	changed, err := s.seasons.RefreshActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Season refresh failed")
		return
	}
	log.Info().Int64("changed", changed).Msg("Season active flags refreshed")
}

// pollLiveEvents resyncs the days around now while any event is being played
func (s *Scheduler) pollLiveEvents(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Context cancelled, stopping live event polling")
			return
		case <-s.stopChan:
			log.Info().Msg("Stop signal received, stopping live event polling")
			return
		case <-s.ticker.C:
			s.checkLiveEvents(ctx)
		}
	}
}

func (s *Scheduler) checkLiveEvents(ctx context.Context) bool {
	count, err := s.live.CountInProgress(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count live events")
		return false
	}
	if count == 0 {
		log.Debug().Msg("No live events")
		return false
	}

	log.Info().Int("live", count).Msg("Live events found, refreshing")
	res := s.syncer.SyncLiveEvents(ctx)
	if !res.OK() {
		log.Error().Str("stage", res.FailedStage).Str("error", res.Error).Msg("Live event sync failed")
	}
	return true
}
