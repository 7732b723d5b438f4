package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	replies []providerReply
	params  []output.SearchParams
}

type providerReply struct {
	results []entity.SearchResult
	err     error
}

func (p *scriptedProvider) Search(ctx context.Context, params output.SearchParams) ([]entity.SearchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = append(p.params, params)
	idx := p.calls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.calls++
	r := p.replies[idx]
	return append([]entity.SearchResult(nil), r.results...), r.err
}

type fakeFetcher struct {
	mu    sync.Mutex
	urls  []string
	delay func(url string) time.Duration
}

func (f *fakeFetcher) Contents(ctx context.Context, url string) string {
	if f.delay != nil {
		time.Sleep(f.delay(url))
	}
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	return "contents of " + url
}

func hits(urls ...string) []entity.SearchResult {
	out := make([]entity.SearchResult, 0, len(urls))
	for _, u := range urls {
		out = append(out, entity.SearchResult{Href: u, Title: u})
	}
	return out
}

func newClient(t *testing.T, p output.SearchProvider, f ContentFetcher, mutate func(*Config)) (*Client, *retry.RecordingSleeper) {
	t.Helper()
	sleeper := &retry.RecordingSleeper{}
	cfg := DefaultConfig()
	cfg.Sleeper = sleeper
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(p, f, cfg)
	require.NoError(t, err)
	return c, sleeper
}

func TestSearch_RetriesEmptyResults(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{}, {}, {results: hits("https://a.example")}}}
	c, sleeper := newClient(t, p, &fakeFetcher{}, nil)

	results, err := c.SearchWithContents(context.Background(), "golang")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "contents of https://a.example", results[0].ContentsText())
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.Delays())
}

func TestSearch_EmptyAfterRetriesIsFailure(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{}}}
	c, _ := newClient(t, p, &fakeFetcher{}, nil)

	_, err := c.SearchWithContents(context.Background(), "golang")

	require.Error(t, err)
	assert.Equal(t,
		"Failed to get search results, reason: Empty search results was provided from DuckDuckGo after 3 retries.",
		err.Error())
}

func TestSearch_AcceptEmpty(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{}}}
	c, _ := newClient(t, p, &fakeFetcher{}, func(cfg *Config) { cfg.AcceptEmpty = true })

	results, err := c.SearchWithContents(context.Background(), "golang")

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, p.calls)
}

func TestSearch_RateLimitRetried(t *testing.T) {
	limited := fmt.Errorf("%w: http 429", output.ErrSearchRateLimited)
	p := &scriptedProvider{replies: []providerReply{{err: limited}, {results: hits("https://a.example")}}}
	c, sleeper := newClient(t, p, &fakeFetcher{}, nil)

	results, err := c.SearchWithContents(context.Background(), "golang")

	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, sleeper.Delays(), 1)
}

func TestSearch_OtherErrorAbortsImmediately(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{err: errors.New("bad gateway")}}}
	c, sleeper := newClient(t, p, &fakeFetcher{}, nil)

	_, err := c.SearchWithContents(context.Background(), "golang")

	require.Error(t, err)
	assert.Equal(t, "Failed to get search results, reason: errorString bad gateway", err.Error())
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, sleeper.Delays())
}

func TestSearch_TruncatesToNumResults(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{results: hits("https://a", "https://b", "https://c")}}}
	f := &fakeFetcher{}
	c, _ := newClient(t, p, f, func(cfg *Config) { cfg.Params.NumResults = 2 })

	results, err := c.SearchWithContents(context.Background(), "golang")

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, []string{"https://a", "https://b"}, f.urls)
	assert.Equal(t, 2, p.params[0].NumResults)
	assert.Equal(t, "golang", p.params[0].Query)
	assert.Equal(t, "us-en", p.params[0].Region)
}

func TestSearch_FilterSelectsFetchedEntries(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{results: hits(
		"https://go.dev/a", "https://example.com/b", "https://go.dev/c", "https://go.dev/d",
	)}}}
	f := &fakeFetcher{}
	const keep = 2
	filter := func(in []entity.SearchResult) []entity.SearchResult {
		var out []entity.SearchResult
		for _, r := range in {
			if strings.Contains(r.Href, "go.dev") && len(out) < keep {
				r.MarkForContents()
				out = append(out, r)
			}
		}
		return out
	}
	c, _ := newClient(t, p, f, func(cfg *Config) { cfg.Filter = filter })

	results, err := c.SearchWithContents(context.Background(), "golang")

	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), keep)
	for _, r := range results {
		assert.Contains(t, r.Href, "go.dev")
		assert.Equal(t, "contents of "+r.Href, r.ContentsText())
	}
}

func TestSearch_FilterUnmarkedEntriesNotFetched(t *testing.T) {
	p := &scriptedProvider{replies: []providerReply{{results: hits("https://a", "https://b")}}}
	f := &fakeFetcher{}
	filter := func(in []entity.SearchResult) []entity.SearchResult {
		in[1].MarkForContents()
		return in
	}
	c, _ := newClient(t, p, f, func(cfg *Config) { cfg.Filter = filter })

	results, err := c.SearchWithContents(context.Background(), "golang")

	require.NoError(t, err)
	assert.False(t, results[0].WantsContents())
	assert.Equal(t, []string{"https://b"}, f.urls)
}

func TestSearchConcurrent_PreservesOrder(t *testing.T) {
	urls := []string{"https://slow", "https://medium", "https://fast"}
	p := &scriptedProvider{replies: []providerReply{{results: hits(urls...)}}}
	f := &fakeFetcher{delay: func(url string) time.Duration {
		switch url {
		case "https://slow":
			return 30 * time.Millisecond
		case "https://medium":
			return 15 * time.Millisecond
		}
		return 0
	}}
	c, _ := newClient(t, p, f, nil)

	results, err := c.SearchWithContentsConcurrent(context.Background(), "golang")

	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, u := range urls {
		assert.Equal(t, u, results[i].Href)
		assert.Equal(t, "contents of "+u, results[i].ContentsText())
	}
}
