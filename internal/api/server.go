// Package api exposes the worker's admin HTTP surface: health, metrics,
// manual sync triggers and season queries.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pickem/ingestion/internal/season"
	"pickem/ingestion/internal/syncer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const dateLayout = "2006-01-02"

// Syncer is the sync surface the admin API triggers
type Syncer interface {
	SyncCompetitors(ctx context.Context) syncer.ClassResult
	SyncEvents(ctx context.Context) syncer.ClassResult
	SyncEventsForSeason(ctx context.Context, year int) syncer.ClassResult
	SyncEventsRange(ctx context.Context, start, end time.Time) syncer.ClassResult
	FullSync(ctx context.Context) syncer.FullResult
	CurrentSeason(ctx context.Context) int
	SeasonBoundaries(ctx context.Context, year int) season.Boundaries
	LastRun(ctx context.Context, class string) (*syncer.ClassResult, error)
}

// HealthChecker is a dependency that can report its health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server routes admin requests
type Server struct {
	syncer Syncer
	checks map[string]HealthChecker
	router chi.Router
}

// NewServer builds the admin router. checks are reported by /health; metrics toggles /metrics.
func NewServer(s Syncer, checks map[string]HealthChecker, metrics bool) *Server {
	srv := &Server{
		syncer: s,
		checks: checks,
		router: chi.NewRouter(),
	}

	r := srv.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog)

	r.Get("/health", srv.health)
	if metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/sync", func(r chi.Router) {
		r.Post("/competitors", srv.syncCompetitors)
		r.Post("/events", srv.syncEvents)
		r.Post("/full", srv.fullSync)
		r.Get("/status", srv.status)
	})

	r.Route("/seasons", func(r chi.Router) {
		r.Get("/current", srv.currentSeason)
		r.Get("/{year}", srv.seasonBoundaries)
	})

	return srv
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Health(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) syncCompetitors(w http.ResponseWriter, r *http.Request) {
	res := s.syncer.SyncCompetitors(r.Context())
	writeJSON(w, resultStatus(res), res)
}

// syncEvents runs the rolling window by default, a whole season with
// ?season=YYYY, or an inclusive date range with ?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *Server) syncEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var res syncer.ClassResult
	switch {
	case q.Get("season") != "":
		year, err := strconv.Atoi(q.Get("season"))
		if err != nil || year <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid season %q", q.Get("season")))
			return
		}
		res = s.syncer.SyncEventsForSeason(r.Context(), year)

	case q.Get("from") != "" || q.Get("to") != "":
		start, end, err := ParseDateRange(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res = s.syncer.SyncEventsRange(r.Context(), start, end)

	default:
		res = s.syncer.SyncEvents(r.Context())
	}

	writeJSON(w, resultStatus(res), res)
}

func (s *Server) fullSync(w http.ResponseWriter, r *http.Request) {
	res := s.syncer.FullSync(r.Context())

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*syncer.ClassResult, 3)
	for _, class := range []string{syncer.ClassCompetitors, syncer.ClassEvents, syncer.ClassFull} {
		last, err := s.syncer.LastRun(r.Context(), class)
		if err != nil {
			log.Warn().Err(err).Str("class", class).Msg("Failed to load sync status")
		}
		out[class] = last
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) currentSeason(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"year": s.syncer.CurrentSeason(r.Context())})
}

func (s *Server) seasonBoundaries(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid season %q", chi.URLParam(r, "year")))
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.SeasonBoundaries(r.Context(), year))
}

// ParseDateRange parses an inclusive YYYY-MM-DD range into [start, end).
// A missing bound defaults to the other one.
func ParseDateRange(from, to string) (time.Time, time.Time, error) {
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}

	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q: expected YYYY-MM-DD", from)
	}
	last, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q: expected YYYY-MM-DD", to)
	}
	if last.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("to date %s precedes from date %s", to, from)
	}

	return start, last.AddDate(0, 0, 1), nil
}

func resultStatus(res syncer.ClassResult) int {
	switch res.Status {
	case syncer.StatusFailed:
		return http.StatusInternalServerError
	case syncer.StatusSkipped:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// accessLog logs each request through zerolog
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("Admin request")
	})
}
