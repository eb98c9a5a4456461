package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/doublescout/internal/crawler"
)

func TestFetcherRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, crawler.NewFixedRetryPolicy(3, time.Millisecond))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/characters?st=0"})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>ok</html>", string(resp.Body))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetcherExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, crawler.NewFixedRetryPolicy(3, time.Millisecond))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/characters?st=20"})
	require.ErrorIs(t, err, crawler.ErrFetchExhausted)
	require.True(t, isStatus(err, http.StatusNotFound))
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetcherReportsResolvedURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/characters", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("st") != "1980" {
			http.Redirect(w, r, "/characters?sort=playtime&st=1980", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("last page"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{}, nil)
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL: srv.URL + "/characters?sort=playtime&st=9999999999999999999",
	})
	require.NoError(t, err)
	off, err := crawler.OffsetFromURL(resp.URL)
	require.NoError(t, err)
	require.Equal(t, 1980, off)
}

func TestFetcherSendsCookiesAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := r.Cookie("session")
		if err != nil || session.Value != "abc" || r.Header.Get("X-Trace") != "yes" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.UserAgent() != "scout-test" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{
		UserAgent: "scout-test",
		Cookies:   []*http.Cookie{{Name: "session", Value: "abc"}},
	}, nil)
	for range 2 {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
			URL:     srv.URL + "/characters?st=0",
			Headers: http.Header{"X-Trace": {"yes"}},
		})
		require.NoError(t, err)
		require.Equal(t, "ok", string(resp.Body))
	}
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestFetcherWaitsOnLimiterEveryAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	f := New(Config{Limiter: limiter}, crawler.NewFixedRetryPolicy(3, time.Millisecond))
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/characters?st=0"})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, int32(2), limiter.calls.Load())
}

func TestFetcherLimiterError(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: context.Canceled}
	f := New(Config{Limiter: limiter}, nil)
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://127.0.0.1:1/characters?st=0"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetcherCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{}, crawler.NewFixedRetryPolicy(5, time.Hour))
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := crawler.FetchRequest{
		URL:     "https://example.com/characters?st=0",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/characters?st=40")},
	})
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://example.com/characters?st=40", result.URL)
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(&colly.Response{StatusCode: http.StatusTooManyRequests}, errors.New("Too Many Requests"))
	require.True(t, isStatus(fetchErr, http.StatusTooManyRequests))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(crawler.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
