// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Cookies are installed into the shared jar for every host the fetcher
	// visits.
	Cookies []*http.Cookie
	// Limiter, when set, is waited on before every attempt.
	Limiter Limiter
	Logger  *zap.Logger
}

// Limiter throttles requests by URL.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Fetcher implements crawler.Fetcher using the Colly collector. Every page is
// retried according to the RetryPolicy; the collector's backend, connection
// pool, and cookie jar are shared between requests.
type Fetcher struct {
	cfg           Config
	retry         crawler.RetryPolicy
	baseCollector *colly.Collector
	logger        *zap.Logger

	cookieMu    sync.Mutex
	cookieHosts map[string]struct{}
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil retry policy means a single attempt.
func New(cfg Config, retry crawler.RetryPolicy) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if retry == nil {
		retry = crawler.NewFixedRetryPolicy(1, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Retries revisit the same URL, so revisit tracking must be off.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		retry:         retry,
		baseCollector: c,
		logger:        logger,
		cookieHosts:   make(map[string]struct{}),
	}
}

// Fetch performs a GET with bounded retries. When every attempt fails the
// returned error wraps crawler.ErrFetchExhausted and the last attempt's error.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.ensureCookies(request.URL); err != nil {
		return crawler.FetchResponse{}, err
	}
	start := time.Now()
	var lastErr error
	attempt := 0
	for {
		attempt++
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
				return crawler.FetchResponse{Attempts: attempt - 1}, err
			}
		}
		result, err := f.fetchOnce(ctx, request)
		if err == nil {
			result.Attempts = attempt
			result.Duration = time.Since(start)
			return result, nil
		}
		lastErr = err
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		backoff := f.retry.Backoff(attempt)
		f.logger.Warn("fetch attempt failed, retrying",
			zap.String("stream", string(request.Stream)),
			zap.Int("page", request.PageIndex),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleepContext(ctx, backoff); err != nil {
			return crawler.FetchResponse{Attempts: attempt}, err
		}
	}
	return crawler.FetchResponse{Attempts: attempt},
		fmt.Errorf("%w after %d attempts: %w", crawler.ErrFetchExhausted, attempt, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		resolved := request.URL
		if r.Request != nil && r.Request.URL != nil {
			resolved = r.Request.URL.String()
		}
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        resolved,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
			*fetchErr = &StatusError{StatusCode: r.StatusCode, URL: request.URL}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// ensureCookies installs the configured cookies for the URL's host once.
func (f *Fetcher) ensureCookies(rawURL string) error {
	if len(f.cfg.Cookies) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	f.cookieMu.Lock()
	defer f.cookieMu.Unlock()
	if _, ok := f.cookieHosts[u.Host]; ok {
		return nil
	}
	root := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
	if err := f.baseCollector.SetCookies(root, f.cfg.Cookies); err != nil {
		return fmt.Errorf("install cookies: %w", err)
	}
	f.cookieHosts[u.Host] = struct{}{}
	return nil
}

func copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// isStatus reports whether err carries a non-2xx response with the given code.
func isStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
