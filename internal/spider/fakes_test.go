package spider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// site is an in-memory link graph. Fetching a page returns its own URL as the
// body so fakeDiscoverer can look up the outgoing links.
type site struct {
	pages  map[string]Links
	status map[string]int
	errs   map[string]error
}

type fakeFetcher struct {
	site   site
	mu     sync.Mutex
	calls  map[string]int
	closed atomic.Int32
}

func newFakeFetcher(s site) *fakeFetcher {
	return &fakeFetcher{site: s, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (Response, error) {
	f.mu.Lock()
	f.calls[url]++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if err := f.site.errs[url]; err != nil {
		return Response{}, err
	}
	status := http.StatusOK
	if code, ok := f.site.status[url]; ok {
		status = code
	}
	return Response{URL: url, StatusCode: status, Body: []byte(url)}, nil
}

func (f *fakeFetcher) Close() {
	f.closed.Add(1)
}

func (f *fakeFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) AllCalls() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.calls))
	for k, v := range f.calls {
		out[k] = v
	}
	return out
}

// hangingFetcher never returns until its context ends.
type hangingFetcher struct {
	closed atomic.Int32
}

func (f *hangingFetcher) Fetch(ctx context.Context, _ string) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

func (f *hangingFetcher) Close() {
	f.closed.Add(1)
}

// deafFetcher blocks every fetch until release is closed, whatever the context.
type deafFetcher struct {
	release chan struct{}
	closed  atomic.Int32
}

func newDeafFetcher(t *testing.T) *deafFetcher {
	f := &deafFetcher{release: make(chan struct{})}
	t.Cleanup(func() { close(f.release) })
	return f
}

func (f *deafFetcher) Fetch(context.Context, string) (Response, error) {
	<-f.release
	return Response{}, errors.New("fetcher released")
}

func (f *deafFetcher) Close() {
	f.closed.Add(1)
}

type fakeDiscoverer struct {
	site site
}

func (d fakeDiscoverer) Discover(document []byte) (Links, error) {
	return d.site.pages[string(document)], nil
}

// MockExtractor is a mock implementation of the Extractor interface.
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, url string) (Record, error) {
	args := m.Called(ctx, url)
	rec, _ := args.Get(0).(Record)
	return rec, args.Error(1)
}

type funcExtractor func(ctx context.Context, url string) (Record, error)

func (f funcExtractor) Extract(ctx context.Context, url string) (Record, error) {
	return f(ctx, url)
}

func urlExtractor() funcExtractor {
	return func(_ context.Context, url string) (Record, error) {
		return Record{"url": url}, nil
	}
}

type memorySink struct {
	mu      sync.Mutex
	name    string
	records []Record
	writes  int
	err     error
}

func (s *memorySink) Write(_ context.Context, name string, records []Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return "", s.err
	}
	s.name = name
	s.records = append([]Record(nil), records...)
	return "memory://" + name, nil
}

type countingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *countingPauser) Pause(_ context.Context, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, delay)
}

func (c *countingPauser) count(delay time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.delays {
		if d == delay {
			n++
		}
	}
	return n
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

var errTransport = errors.New("connection reset")
