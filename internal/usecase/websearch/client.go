// Package websearch runs a search query and attaches each hit's page
// contents.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/logger"
	"search-agent/internal/retry"

	"golang.org/x/sync/errgroup"
)

const subject = "search results"

const (
	DefaultRetries        = 3
	DefaultRetryDelay     = 5 * time.Second
	DefaultMaxConcurrency = 8
)

// FilterFunc may reorder, drop or annotate results. Entries it wants
// fetched must keep Href and be marked with MarkForContents.
type FilterFunc func([]entity.SearchResult) []entity.SearchResult

// ContentFetcher returns page contents or a failure text; it never fails.
type ContentFetcher interface {
	Contents(ctx context.Context, url string) string
}

type Config struct {
	Params     output.SearchParams
	Retries    int
	RetryDelay time.Duration
	// AcceptEmpty returns an empty result set as a valid answer instead of
	// retrying it.
	AcceptEmpty bool
	Filter      FilterFunc
	// MaxConcurrency bounds concurrent page fetches; <= 0 means unlimited.
	MaxConcurrency int
	Sleeper        retry.Sleeper
	Logger         output.LoggerPort
}

func DefaultParams() output.SearchParams {
	return output.SearchParams{
		Region:     "us-en",
		SafeSearch: "moderate",
		Page:       1,
		Backend:    "auto",
	}
}

func DefaultConfig() Config {
	return Config{
		Params:         DefaultParams(),
		Retries:        DefaultRetries,
		RetryDelay:     DefaultRetryDelay,
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

type Client struct {
	provider output.SearchProvider
	fetcher  ContentFetcher
	cfg      Config
	sleeper  retry.Sleeper
	logger   output.LoggerPort
}

func New(provider output.SearchProvider, fetcher ContentFetcher, cfg Config) (*Client, error) {
	if provider == nil {
		return nil, errors.New("websearch: search provider is required")
	}
	if fetcher == nil {
		return nil, errors.New("websearch: content fetcher is required")
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = retry.RealSleeper()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		provider: provider,
		fetcher:  fetcher,
		cfg:      cfg,
		sleeper:  sleeper,
		logger:   log.WithField("component", "websearch"),
	}, nil
}

// SearchWithContents fetches each selected page one after another.
func (c *Client) SearchWithContents(ctx context.Context, query string) ([]entity.SearchResult, error) {
	return c.run(ctx, query, c.fetchSequential)
}

// SearchWithContentsConcurrent fetches selected pages concurrently. Output
// order matches the search order.
func (c *Client) SearchWithContentsConcurrent(ctx context.Context, query string) ([]entity.SearchResult, error) {
	return c.run(ctx, query, c.fetchConcurrent)
}

func (c *Client) run(
	ctx context.Context,
	query string,
	attach func(ctx context.Context, results []entity.SearchResult, targets []int),
) ([]entity.SearchResult, error) {
	c.logger.Info("Searching", "query", query)

	results, err := c.search(ctx, query)
	if err != nil {
		return nil, err
	}

	if c.cfg.Filter != nil {
		results = c.cfg.Filter(results)
	}

	targets := make([]int, 0, len(results))
	for i, r := range results {
		if c.cfg.Filter == nil || r.WantsContents() {
			targets = append(targets, i)
		}
	}
	attach(ctx, results, targets)

	c.logger.Debug("Search complete", "query", query, "results", len(results), "fetched", len(targets))
	return results, nil
}

// search queries the provider. Rate limiting and empty result sets are
// retried; any other provider error ends the search.
func (c *Client) search(ctx context.Context, query string) ([]entity.SearchResult, error) {
	params := c.cfg.Params
	params.Query = query

	out := retry.Do(ctx, retry.Policy{
		Attempts: c.cfg.Retries,
		Delay:    retry.Fixed(c.cfg.RetryDelay),
		Sleeper:  c.sleeper,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.logger.Debug("Retrying search", "query", query, "attempt", attempt, "error", err, "delay", delay)
		},
	}, func(ctx context.Context, _ int) ([]entity.SearchResult, error) {
		return c.provider.Search(ctx, params)
	}, func(results []entity.SearchResult, err error) retry.Decision {
		switch {
		case errors.Is(err, output.ErrSearchRateLimited):
			return retry.Retry
		case err != nil:
			return retry.Stop
		case len(results) == 0 && !c.cfg.AcceptEmpty:
			return retry.Retry
		}
		return retry.Stop
	})

	if out.Err != nil && !errors.Is(out.Err, output.ErrSearchRateLimited) {
		failure := &entity.Failure{Subject: subject, Reason: entity.ErrorReason(out.Err), Err: out.Err}
		c.logger.Error("Search failed", "query", query, "error", failure.Error())
		return nil, failure
	}

	results := out.Value
	if len(results) == 0 && (out.Err != nil || !c.cfg.AcceptEmpty) {
		failure := &entity.Failure{
			Subject: subject,
			Reason:  fmt.Sprintf("Empty search results was provided from DuckDuckGo after %d retries.", c.cfg.Retries),
			Err:     out.Err,
		}
		c.logger.Error("Search exhausted retries", "query", query, "attempts", out.Attempts)
		return nil, failure
	}

	if n := c.cfg.Params.NumResults; n > 0 && len(results) > n {
		results = results[:n]
	}
	return results, nil
}

func (c *Client) fetchSequential(ctx context.Context, results []entity.SearchResult, targets []int) {
	for _, i := range targets {
		results[i].SetContents(c.fetcher.Contents(ctx, results[i].Href))
	}
}

func (c *Client) fetchConcurrent(ctx context.Context, results []entity.SearchResult, targets []int) {
	contents := make([]string, len(targets))

	var g errgroup.Group
	if c.cfg.MaxConcurrency > 0 {
		g.SetLimit(c.cfg.MaxConcurrency)
	}
	for slot, i := range targets {
		href := results[i].Href
		g.Go(func() error {
			contents[slot] = c.fetcher.Contents(ctx, href)
			return nil
		})
	}
	_ = g.Wait()

	for slot, i := range targets {
		results[i].SetContents(contents[slot])
	}
}
