package crawler

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/obsrv/monitor-service/config"
	"github.com/obsrv/monitor-service/internal/urlutil"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 5 << 20

// Result is a successful fetch: final URL after redirects, status, body and
// the time the response was received.
type Result struct {
	FinalURL   string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Fetcher performs rate-limited HTTP GETs with retry. One limiter per base
// domain enforces the minimum inter-request interval; the limiter map is
// shared across all goroutines using the Fetcher.
type Fetcher struct {
	client        *http.Client
	userAgent     string
	retryAttempts int
	backoffBase   time.Duration
	perDomainRate rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher from crawl configuration.
func NewFetcher(cfg config.CrawlConfig) *Fetcher {
	perMinute := cfg.RateLimitPerDomain
	if perMinute <= 0 {
		perMinute = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; ObsrvBot/1.0; +https://obsrv.example.com/bot)"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		userAgent:     cfg.UserAgent,
		retryAttempts: cfg.RetryAttempts,
		backoffBase:   time.Duration(cfg.RetryBackoffBase) * time.Second,
		perDomainRate: rate.Every(time.Minute / time.Duration(perMinute)),
		limiters:      make(map[string]*rate.Limiter),
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// limiter returns the rate limiter for a base domain, creating it on first use.
func (f *Fetcher) limiter(baseDomain string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[baseDomain]
	if !ok {
		l = rate.NewLimiter(f.perDomainRate, 1)
		f.limiters[baseDomain] = l
	}
	return l
}

// Fetch GETs a URL, waiting on the per-domain limiter first. Network errors,
// timeouts and 5xx responses are retried with exponential backoff; 4xx is
// returned immediately as permanent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if !urlutil.IsValid(rawURL) {
		return nil, &CrawlError{Kind: ErrKindInvalidURL, URL: rawURL}
	}
	baseDomain := urlutil.ExtractBaseDomain(rawURL)

	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= f.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := f.backoffBase * (1 << (attempt - 1))
			log.Debug().
				Str("url", rawURL).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying fetch")
			if err := f.sleep(ctx, backoff); err != nil {
				return nil, &CrawlError{Kind: ErrKindTimeout, URL: rawURL, Attempts: attempt, Err: err}
			}
		}

		if err := f.limiter(baseDomain).Wait(ctx); err != nil {
			return nil, &CrawlError{Kind: ErrKindTimeout, URL: rawURL, Attempts: attempt + 1, Err: err}
		}

		res, err := f.doFetch(ctx, rawURL)
		if err == nil {
			return res, nil
		}

		var ce *CrawlError
		if errors.As(err, &ce) {
			if ce.Kind == ErrKindHTTP4xx || ce.Kind == ErrKindInvalidURL {
				return nil, err
			}
			lastStatus = ce.StatusCode
		}
		lastErr = err
	}

	kind := ErrKindNetwork
	if lastStatus >= 500 {
		kind = ErrKindHTTP5xxExhaust
	} else if isTimeout(lastErr) {
		kind = ErrKindTimeout
	}
	return nil, &CrawlError{
		Kind:       kind,
		URL:        rawURL,
		StatusCode: lastStatus,
		Attempts:   f.retryAttempts + 1,
		Err:        errors.Unwrap(lastErr),
	}
}

func (f *Fetcher) doFetch(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &CrawlError{Kind: ErrKindInvalidURL, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := ErrKindNetwork
		if isTimeout(err) {
			kind = ErrKindTimeout
		}
		return nil, &CrawlError{Kind: kind, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &CrawlError{Kind: ErrKindHTTP4xx, URL: rawURL, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 500 {
		return nil, &CrawlError{Kind: ErrKindHTTP5xxExhaust, URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &CrawlError{Kind: ErrKindNetwork, URL: rawURL, Err: err}
	}

	return &Result{
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
