package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/cache"
	"search-agent/internal/infrastructure/cleaner"
	"search-agent/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	mu        sync.Mutex
	calls     int
	responses []*output.PageResponse
	err       error
}

func (g *fakeGetter) Get(ctx context.Context, url string) (*output.PageResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	idx := g.calls - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	resp := *g.responses[idx]
	resp.URL = url
	return &resp, nil
}

func (g *fakeGetter) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func ok(body string) *output.PageResponse {
	return &output.PageResponse{StatusCode: http.StatusOK, Body: body}
}

func status(code int) *output.PageResponse {
	return &output.PageResponse{StatusCode: code}
}

func newFetcher(t *testing.T, g output.PageGetter, c Cache, sleeper retry.Sleeper) *Fetcher {
	t.Helper()
	f, err := New(g, Config{Retries: 3, RetryDelay: 5 * time.Second, Cache: c, Sleeper: sleeper})
	require.NoError(t, err)
	return f
}

func TestFetch_EmptyURLMakesNoCall(t *testing.T) {
	g := &fakeGetter{responses: []*output.PageResponse{ok("x")}}
	f := newFetcher(t, g, nil, &retry.RecordingSleeper{})

	_, err := f.Fetch(context.Background(), "")

	require.Error(t, err)
	assert.Equal(t, "Failed to get website contents, reason: No url was provided.", err.Error())
	assert.Equal(t, 0, g.Calls())
}

func TestFetch_ServerErrorExhaustsRetries(t *testing.T) {
	g := &fakeGetter{responses: []*output.PageResponse{status(http.StatusInternalServerError)}}
	sleeper := &retry.RecordingSleeper{}
	f := newFetcher(t, g, nil, sleeper)

	got := f.Contents(context.Background(), "https://example.com/a")

	assert.Equal(t, 3, g.Calls())
	assert.Contains(t, got, "https://example.com/a")
	assert.Contains(t, got, "after 3 retries")
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.Delays())
}

func TestFetch_EmptyContentRetried(t *testing.T) {
	g := &fakeGetter{responses: []*output.PageResponse{ok(""), status(503), ok("<p>hi</p>")}}
	f := newFetcher(t, g, nil, &retry.RecordingSleeper{})

	got, err := f.Fetch(context.Background(), "https://example.com")

	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", got)
	assert.Equal(t, 3, g.Calls())
}

func TestFetch_TransportErrorNotRetried(t *testing.T) {
	g := &fakeGetter{err: errors.New("connection refused")}
	sleeper := &retry.RecordingSleeper{}
	f := newFetcher(t, g, nil, sleeper)

	_, err := f.Fetch(context.Background(), "https://example.com")

	require.Error(t, err)
	var failure *entity.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "Failed to get website contents, reason: errorString connection refused", err.Error())
	assert.Equal(t, 1, g.Calls())
	assert.Empty(t, sleeper.Delays())
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	g := &fakeGetter{responses: []*output.PageResponse{ok("<p>first</p>"), ok("<p>second</p>")}}
	c := cache.New(cache.DefaultConfig())
	f := newFetcher(t, g, c, &retry.RecordingSleeper{})

	first, err := f.Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "<p>first</p>", second)
	assert.Equal(t, 1, g.Calls())
}

func TestFetch_FailureNotCached(t *testing.T) {
	g := &fakeGetter{responses: []*output.PageResponse{status(404)}}
	c := cache.New(cache.DefaultConfig())
	f := newFetcher(t, g, c, &retry.RecordingSleeper{})

	_, err := f.Fetch(context.Background(), "https://example.com/missing")
	require.Error(t, err)
	assert.False(t, c.Contains("https://example.com/missing"))
}

func TestFetch_AppliesCleaner(t *testing.T) {
	cl, err := cleaner.New(cleaner.Config{Kind: cleaner.KindRemoveTags})
	require.NoError(t, err)
	g := &fakeGetter{responses: []*output.PageResponse{ok("<body><script>x()</script><p>kept</p></body>")}}
	f, err := New(g, Config{Retries: 1, Cleaner: cl, Sleeper: &retry.RecordingSleeper{}})
	require.NoError(t, err)

	got, err := f.Fetch(context.Background(), "https://example.com")

	require.NoError(t, err)
	assert.NotContains(t, got, "<script")
	assert.Contains(t, got, "<p>kept</p>")
}

func TestHTTPGetter_AgainstServer(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<p>hello</p>")
		case "/redirect":
			http.Redirect(w, r, "/ok", http.StatusFound)
		default:
			http.Error(w, "nope", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	g, err := NewHTTPGetter(DefaultHTTPConfig())
	require.NoError(t, err)

	resp, err := g.Get(context.Background(), srv.URL+"/redirect")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<p>hello</p>", resp.Body)
	assert.Equal(t, srv.URL+"/ok", resp.URL)
	assert.Equal(t, DefaultUserAgent, gotUA)

	resp, err = g.Get(context.Background(), srv.URL+"/fail")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestHTTPGetter_NoRedirectFollow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.FollowRedirects = false
	g, err := NewHTTPGetter(cfg)
	require.NoError(t, err)

	resp, err := g.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
}
