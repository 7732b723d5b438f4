// Package fetcher retrieves a page, cleans it and caches the result.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/cleaner"
	"search-agent/internal/infrastructure/logger"
	"search-agent/internal/retry"
)

const subject = "website contents"

const (
	DefaultRetries    = 3
	DefaultRetryDelay = 5 * time.Second
)

// Cache is the subset of cache.Expiring the fetcher needs.
type Cache interface {
	Lookup(key string) (string, bool)
	Set(key, value string)
}

type Config struct {
	Retries    int
	RetryDelay time.Duration
	// Cache may be nil to always fetch.
	Cache   Cache
	Cleaner *cleaner.Cleaner
	Sleeper retry.Sleeper
	Logger  output.LoggerPort
}

type Fetcher struct {
	getter  output.PageGetter
	cleaner *cleaner.Cleaner
	cache   Cache
	retries int
	delay   time.Duration
	sleeper retry.Sleeper
	logger  output.LoggerPort
}

func New(getter output.PageGetter, cfg Config) (*Fetcher, error) {
	if getter == nil {
		return nil, fmt.Errorf("fetcher: page getter is required")
	}
	cl := cfg.Cleaner
	if cl == nil {
		var err error
		if cl, err = cleaner.New(cleaner.Config{Kind: cleaner.KindNone, Logger: cfg.Logger}); err != nil {
			return nil, err
		}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = retry.RealSleeper()
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}

	return &Fetcher{
		getter:  getter,
		cleaner: cl,
		cache:   cfg.Cache,
		retries: retries,
		delay:   cfg.RetryDelay,
		sleeper: sleeper,
		logger:  log.WithField("component", "fetcher"),
	}, nil
}

type attemptResult struct {
	status  int
	content string
}

// Fetch returns cleaned page contents. Failures are *entity.Failure.
//
// A cached URL is returned without a network call. Otherwise the page is
// requested up to Retries times: a non-2xx status or empty cleaned content
// is retried after RetryDelay; a transport error ends the loop at once.
// Only successful content is cached.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &entity.Failure{Subject: subject, Reason: "No url was provided."}
	}

	if f.cache != nil {
		if cached, ok := f.cache.Lookup(url); ok {
			f.logger.Debug("Cache hit", "url", url)
			return cached, nil
		}
	}

	out := retry.Do(ctx, retry.Policy{
		Attempts: f.retries,
		Delay:    retry.Fixed(f.delay),
		Sleeper:  f.sleeper,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			f.logger.Debug("Retrying page fetch", "url", url, "attempt", attempt, "delay", delay)
		},
	}, func(ctx context.Context, attempt int) (attemptResult, error) {
		resp, err := f.getter.Get(ctx, url)
		if err != nil {
			return attemptResult{}, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			f.logger.Debug("Unexpected status", "url", url, "status", resp.StatusCode, "attempt", attempt)
			return attemptResult{status: resp.StatusCode}, nil
		}
		return attemptResult{status: resp.StatusCode, content: f.cleaner.Clean(resp.Body, url)}, nil
	}, func(r attemptResult, err error) retry.Decision {
		if err != nil || r.content != "" {
			return retry.Stop
		}
		return retry.Retry
	})

	if out.Err != nil {
		failure := &entity.Failure{Subject: subject, Reason: entity.ErrorReason(out.Err), Err: out.Err}
		f.logger.Error("Page fetch failed", "url", url, "error", failure.Error())
		return "", failure
	}
	if out.Value.content == "" {
		failure := &entity.Failure{
			Subject: subject,
			Reason:  fmt.Sprintf("Empty contents was provided from %s after %d retries.", url, f.retries),
		}
		f.logger.Error("Page fetch exhausted retries", "url", url, "attempts", out.Attempts, "lastStatus", out.Value.status)
		return "", failure
	}

	if f.cache != nil {
		f.cache.Set(url, out.Value.content)
	}
	return out.Value.content, nil
}

// Contents is Fetch with the failure flattened into its text.
func (f *Fetcher) Contents(ctx context.Context, url string) string {
	content, err := f.Fetch(ctx, url)
	if err != nil {
		return err.Error()
	}
	return content
}
