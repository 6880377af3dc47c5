package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/metrics"
	"github.com/JakeFAU/sitespider/internal/spider"
)

func TestFetcherFetchesPage(t *testing.T) {
	t.Parallel()

	received := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Clone()
		w.Header().Set("X-Resp", "ok")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/catalog/a">a</a>`)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{
		UserAgent: "sitespider-test",
		Headers:   http.Header{"X-Trace": {"yes"}},
		Timeout:   time.Second,
	}, zap.NewNop(), nil)
	t.Cleanup(f.Close)

	resp, err := f.Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, srv.URL+"/", resp.URL)
	require.Equal(t, `<a href="/catalog/a">a</a>`, string(resp.Body))
	require.Equal(t, "ok", resp.Headers.Get("X-Resp"))
	require.Positive(t, resp.Duration)
	headers := <-received
	require.Equal(t, "sitespider-test", headers.Get("User-Agent"))
	require.Equal(t, "yes", headers.Get("X-Trace"))
}

func TestFetcherSurfacesErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second}, nil, nil)
	resp, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.False(t, resp.OK())
}

func TestFetcherRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "page")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second}, nil, nil)
	for range 2 {
		resp, err := f.Fetch(context.Background(), srv.URL+"/catalog/a")
		require.NoError(t, err)
		require.Equal(t, "page", string(resp.Body))
	}
	require.Equal(t, int32(2), hits.Load())
}

func TestFetcherCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := New(Config{Timeout: 5 * time.Second}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL+"/slow")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestFetcherRespectsRobots(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private")
			return
		}
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{RespectRobots: true, Timeout: time.Second}, nil, nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/private/page")
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	resp, err := f.Fetch(context.Background(), srv.URL+"/public")
	require.NoError(t, err)
	require.True(t, resp.OK())
}

func TestFetcherImplementsSpiderFetcher(t *testing.T) {
	t.Parallel()

	var _ spider.Fetcher = New(Config{}, nil, metrics.New(prometheus.NewRegistry()))
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent"}, nil, nil)
	require.Equal(t, defaultTimeout, f.cfg.Timeout)
	require.Equal(t, "coverage-agent", f.baseCollector.UserAgent)
	require.True(t, f.baseCollector.IgnoreRobotsTxt)
	require.True(t, f.baseCollector.AllowURLRevisit)
	require.True(t, f.baseCollector.ParseHTTPErrorResponse)

	clone := f.buildCollector(context.Background(), time.Now(), &spider.Response{}, new(error))
	require.Equal(t, "coverage-agent", clone.UserAgent)
	require.NotNil(t, clone.Context)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil, nil)
	start := time.Unix(0, 0)
	var result spider.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))
	require.Equal(t, "https://example.com", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(collyReq)
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
