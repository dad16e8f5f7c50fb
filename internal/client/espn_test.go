package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pickem/ingestion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Options{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: 5 * time.Millisecond,
	})
}

func TestFetchResource_RetriesRateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).FetchResource(context.Background(), "teams", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "429 should be retried once")
}

func TestFetchResource_DoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "invalid dates", http.StatusBadRequest)
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).FetchResource(context.Background(), "scoreboard", nil)
	require.NoError(t, err, "A rejected request is no data, not an error")
	assert.Nil(t, body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "400 must not be retried")
}

func TestFetchResource_ServerErrorsExhaustToNoData(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL).FetchResource(context.Background(), "teams", nil)
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "Should use every attempt")
}

func TestFetchResource_CancelledBetweenAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	body, err := newTestClient(srv.URL).FetchResource(ctx, "teams", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, body)
	assert.Less(t, time.Since(start), 5*time.Second, "Cancellation should abort the backoff promptly")
}

func TestFetchScoreboard_FormatsInclusiveDateRange(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scoreboard", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"events":[]}`))
	}))
	defer srv.Close()

	window := models.SyncWindow{
		Start: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC),
	}
	body, err := newTestClient(srv.URL).FetchScoreboard(context.Background(), window, 500)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Equal(t, "dates=20250901-20250907&limit=500", gotQuery)
}

func TestFetchScoreboard_EmptyWindowSkipsRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	body, err := newTestClient(srv.URL).FetchScoreboard(context.Background(), models.SyncWindow{Start: now, End: now}, 0)
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchSeason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/seasons/2024":
			w.Write([]byte(`{"year":2024,"startDate":"2024-08-01T07:00Z","endDate":"2025-02-13T07:59Z","displayName":"2024"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	season, err := c.FetchSeason(context.Background(), 2024)
	require.NoError(t, err)
	require.NotNil(t, season)
	assert.Equal(t, 2024, season.Year)
	assert.Equal(t, "2024-08-01T07:00Z", season.StartDate)

	missing, err := c.FetchSeason(context.Background(), 1999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFetchCurrentSeasonInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"season":{"year":2025,"type":2,"slug":"regular-season"},"events":[]}`))
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).FetchCurrentSeasonInfo(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, 2025, ref.Year)
	assert.Equal(t, "regular-season", ref.Slug)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := retryAfter("3", now)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	d, ok = retryAfter("86400", now)
	assert.True(t, ok)
	assert.Equal(t, maxRetryAfter, d, "Hints are capped")

	_, ok = retryAfter("", now)
	assert.False(t, ok)

	_, ok = retryAfter("soon", now)
	assert.False(t, ok)
}

func TestFetchResource_BreakerOpensAfterExhaustedRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 1})
	for i := 0; i < 5; i++ {
		body, err := c.FetchResource(context.Background(), "scoreboard", nil)
		require.NoError(t, err)
		assert.Nil(t, body)
	}
	require.Equal(t, int32(5), atomic.LoadInt32(&calls))

	body, err := c.FetchResource(context.Background(), "scoreboard", nil)
	require.NoError(t, err, "An open breaker is no data, not an error")
	assert.Nil(t, body)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls), "Open breaker must not reach the provider")
}

func TestFetchResource_RejectedRequestsKeepBreakerClosed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 1})
	for i := 0; i < 7; i++ {
		_, err := c.FetchResource(context.Background(), "seasons/1999", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
}
