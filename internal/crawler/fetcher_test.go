package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestFetcher(retries int, perDomainInterval time.Duration) *Fetcher {
	return &Fetcher{
		client:        &http.Client{Timeout: 2 * time.Second},
		userAgent:     "test-agent/1.0",
		retryAttempts: retries,
		backoffBase:   time.Millisecond,
		perDomainRate: rate.Every(perDomainInterval),
		limiters:      make(map[string]*rate.Limiter),
		sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
	}
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(3, time.Millisecond)
	res, err := f.Fetch(context.Background(), srv.URL+"/p")
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, []byte("<html>ok</html>"), res.Body)
	assert.False(t, res.FetchedAt.IsZero())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := newTestFetcher(3, time.Millisecond)
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), res.Body)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchExhausts5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(2, time.Millisecond)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindHTTP5xxExhaust, ce.Kind)
	assert.Equal(t, 500, ce.StatusCode)
	assert.Equal(t, 3, ce.Attempts)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls)) // initial + 2 retries
}

func TestFetchDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(3, time.Millisecond)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindHTTP4xx, ce.Kind)
	assert.Equal(t, 404, ce.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.True(t, IsPermanentNotFound(err))
}

func TestFetchInvalidURL(t *testing.T) {
	f := newTestFetcher(3, time.Millisecond)
	_, err := f.Fetch(context.Background(), "not a url")
	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindInvalidURL, ce.Kind)
}

func TestFetchPerDomainSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	interval := 80 * time.Millisecond
	f := newTestFetcher(0, interval)

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond,
			"requests to the same domain must honor the minimum interval")
	}
}

func TestFetchContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := newTestFetcher(0, time.Millisecond)
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)

	var ce *CrawlError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrKindTimeout, ce.Kind)
}
