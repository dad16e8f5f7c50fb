package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pickem/ingestion/internal/metrics"
	"pickem/ingestion/internal/models"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// maxRetryAfter bounds how long a provider Retry-After hint may stall a sync
const maxRetryAfter = 2 * time.Minute

// maxErrorBodySize limits how much of an error response is read for logging
const maxErrorBodySize = 4 * 1024

var (
	// errPermanent marks a request the provider rejected for good (4xx other than 429)
	errPermanent = errors.New("permanent request failure")
	// errExhausted marks a request that kept failing transiently until attempts ran out
	errExhausted = errors.New("retries exhausted")
)

// Options configures the ESPN client
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RateLimit      float64 // requests per second, <= 0 disables limiting
	RateBurst      int
	UserAgent      string
}

// Client is the ESPN site API client.
//
// Every fetch returns either a payload, nil for "no data", or an error when the
// caller's context was cancelled. Upstream faults never surface as errors: an
// off-season or out-of-range request is an expected steady state.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]byte]
	maxAttempts int
	retryDelay  time.Duration
	userAgent   string
}

// NewClient creates a new ESPN API client
func NewClient(opts Options) *Client {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "pickem-ingestion/1.0"
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		limiter:     rate.NewLimiter(limit, burst),
		breaker:     newBreaker("espn-api"),
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryBaseDelay,
		userAgent:   opts.UserAgent,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// newBreaker opens after five consecutive exhausted requests and probes again after a minute.
// Rejected (4xx) requests and cancellations do not count against the upstream.
func newBreaker(name string) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errPermanent) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// FetchResource performs a GET against the provider and returns the raw body.
// A nil body with a nil error means no data is available for the request.
func (c *Client) FetchResource(ctx context.Context, path string, query url.Values) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, path, query)
	})

	switch {
	case err == nil:
		return body, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Warn().Str("path", path).Msg("Circuit breaker open, skipping API request")
		return nil, nil
	default:
		// errPermanent and errExhausted are reported by get; callers see "no data"
		return nil, nil
	}
}

// get performs a GET request with retry logic and rate limiting
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := strings.Split(strings.TrimPrefix(path, "/"), "/")[0]
	u := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(path, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// The limiter would outlast the caller's deadline
			return nil, fmt.Errorf("rate limiter: %w", context.DeadlineExceeded)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			// A request that cannot be built will never succeed
			log.Error().Err(err).Str("url", u).Msg("Failed to create API request")
			return nil, errPermanent
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		log.Debug().
			Str("url", u).
			Int("attempt", attempt).
			Msg("Making API request")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RecordAPICall(endpoint, "network_error", time.Since(start).Seconds())
			log.Warn().Err(err).Str("url", u).Int("attempt", attempt).Msg("API request failed")

			if attempt == c.maxAttempts {
				continue
			}
			metrics.RecordAPIRetry(endpoint, "network")
			if err := c.wait(ctx, c.backoff(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode
		metrics.RecordAPICall(endpoint, strconv.Itoa(status), time.Since(start).Seconds())

		switch {
		case status == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warn().Err(err).Str("url", u).Msg("Failed to read response body")
				if attempt == c.maxAttempts {
					return nil, errExhausted
				}
				metrics.RecordAPIRetry(endpoint, "read")
				if err := c.wait(ctx, c.backoff(attempt)); err != nil {
					return nil, err
				}
				continue
			}

			log.Debug().
				Str("url", u).
				Int("size", len(body)).
				Msg("API request successful")
			return body, nil

		case status == http.StatusTooManyRequests || status >= 500:
			delay := c.backoff(attempt)
			if hint, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				delay = hint
			}
			drainAndClose(resp.Body)

			log.Warn().
				Str("url", u).
				Int("status", status).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Received retryable status")

			if attempt == c.maxAttempts {
				continue
			}
			metrics.RecordAPIRetry(endpoint, strconv.Itoa(status))
			if err := c.wait(ctx, delay); err != nil {
				return nil, err
			}
			continue

		default:
			// 4xx other than rate limiting: the request itself is wrong for the
			// provider (typically a date range it has no data for)
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()

			log.Warn().
				Str("url", u).
				Int("status", status).
				Str("body", string(body)).
				Msg("API rejected request, treating as no data")
			return nil, errPermanent
		}
	}

	log.Error().
		Str("url", u).
		Int("attempts", c.maxAttempts).
		Msg("API request failed after all attempts, treating as no data")
	metrics.RecordError("client", "retries_exhausted")
	return nil, errExhausted
}

// backoff grows linearly with the attempt number
func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(attempt) * c.retryDelay
}

// wait sleeps for d or returns early when ctx is cancelled
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter parses a Retry-After header given either in seconds or as an HTTP date
func retryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		d = at.Sub(now)
	} else {
		return 0, false
	}

	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodySize))
	body.Close()
}

// FetchTeams fetches the raw competitor listing
func (c *Client) FetchTeams(ctx context.Context, limit int) ([]byte, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.FetchResource(ctx, "teams", q)
}

// FetchScoreboard fetches the raw scoreboard for a [start, end) window
func (c *Client) FetchScoreboard(ctx context.Context, window models.SyncWindow, limit int) ([]byte, error) {
	if window.IsEmpty() {
		log.Debug().Str("window", window.String()).Msg("Empty fetch window, skipping scoreboard request")
		return nil, nil
	}

	q := url.Values{}
	q.Set("dates", window.Start.Format("20060102")+"-"+window.LastDay().Format("20060102"))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.FetchResource(ctx, "scoreboard", q)
}

// FetchSeason fetches the authoritative boundaries of a season.
// Returns nil when the provider has no usable data for that year.
func (c *Client) FetchSeason(ctx context.Context, year int) (*models.SeasonInput, error) {
	body, err := c.FetchResource(ctx, fmt.Sprintf("seasons/%d", year), nil)
	if err != nil || body == nil {
		return nil, err
	}

	var season models.SeasonInput
	if err := json.Unmarshal(body, &season); err != nil {
		log.Warn().Err(err).Int("year", year).Msg("Failed to decode season payload")
		return nil, nil
	}
	if season.Year == 0 {
		season.Year = year
	}
	return &season, nil
}

// FetchCurrentSeasonInfo asks the provider which season it considers current,
// using the season tag of an undated scoreboard.
func (c *Client) FetchCurrentSeasonInfo(ctx context.Context) (*models.SeasonRef, error) {
	body, err := c.FetchResource(ctx, "scoreboard", url.Values{"limit": {"1"}})
	if err != nil || body == nil {
		return nil, err
	}

	var board struct {
		Season *models.SeasonRef `json:"season"`
	}
	if err := json.Unmarshal(body, &board); err != nil {
		log.Warn().Err(err).Msg("Failed to decode scoreboard season")
		return nil, nil
	}
	if board.Season == nil || board.Season.Year <= 0 {
		return nil, nil
	}
	return board.Season, nil
}
