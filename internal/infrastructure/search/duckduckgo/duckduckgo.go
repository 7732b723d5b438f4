// Package duckduckgo scrapes DuckDuckGo's no-JavaScript result pages.
package duckduckgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/infrastructure/logger"
)

var _ output.SearchProvider = (*Provider)(nil)

const (
	LiteEndpoint = "https://lite.duckduckgo.com/lite/"
	HTMLEndpoint = "https://html.duckduckgo.com/html/"

	BackendAuto = "auto"
	BackendLite = "lite"
	BackendHTML = "html"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

type Config struct {
	LiteURL string
	HTMLURL string
	Timeout time.Duration
	Proxy   string
	// Client overrides the client built from Timeout and Proxy.
	Client *http.Client
	Logger output.LoggerPort
}

func DefaultConfig() Config {
	return Config{
		LiteURL: LiteEndpoint,
		HTMLURL: HTMLEndpoint,
		Timeout: 15 * time.Second,
	}
}

type Provider struct {
	client  *http.Client
	liteURL string
	htmlURL string
	logger  output.LoggerPort
}

func New(cfg Config) (*Provider, error) {
	client := cfg.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.Proxy != "" {
			proxyURL, err := url.Parse(cfg.Proxy)
			if err != nil {
				return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
		client = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}
	if cfg.LiteURL == "" {
		cfg.LiteURL = LiteEndpoint
	}
	if cfg.HTMLURL == "" {
		cfg.HTMLURL = HTMLEndpoint
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Provider{
		client:  client,
		liteURL: cfg.LiteURL,
		htmlURL: cfg.HTMLURL,
		logger:  log.WithField("component", "duckduckgo"),
	}, nil
}

// Search queries one backend. "auto" tries lite first and falls back to
// html when lite fails for a reason other than rate limiting or returns
// nothing.
func (p *Provider) Search(ctx context.Context, params output.SearchParams) ([]entity.SearchResult, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, errors.New("query is empty")
	}

	switch params.Backend {
	case BackendLite:
		return p.query(ctx, p.liteURL, params, parseLite)
	case BackendHTML:
		return p.query(ctx, p.htmlURL, params, parseHTML)
	case "", BackendAuto:
		results, err := p.query(ctx, p.liteURL, params, parseLite)
		if errors.Is(err, output.ErrSearchRateLimited) {
			return nil, err
		}
		if err == nil && len(results) > 0 {
			return results, nil
		}
		p.logger.Debug("Lite backend gave nothing, trying html", "error", err)
		return p.query(ctx, p.htmlURL, params, parseHTML)
	default:
		return nil, fmt.Errorf("unsupported backend %q", params.Backend)
	}
}

func (p *Provider) query(
	ctx context.Context,
	endpoint string,
	params output.SearchParams,
	parse func(io.Reader) ([]entity.SearchResult, error),
) ([]entity.SearchResult, error) {
	form := formValues(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", endpoint)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusAccepted:
		return nil, fmt.Errorf("%w: http %d", output.ErrSearchRateLimited, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	results, err := parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	p.logger.Debug("Search page parsed", "endpoint", endpoint, "results", len(results))
	return results, nil
}

func formValues(params output.SearchParams) url.Values {
	form := url.Values{}
	form.Set("q", params.Query)
	if params.Region != "" {
		form.Set("kl", params.Region)
	}
	switch strings.ToLower(params.SafeSearch) {
	case "on":
		form.Set("kp", "1")
	case "off":
		form.Set("kp", "-2")
	case "moderate", "":
		form.Set("kp", "-1")
	}
	if params.TimeLimit != "" {
		form.Set("df", params.TimeLimit)
	}
	if params.Page > 1 {
		form.Set("s", strconv.Itoa(10+(params.Page-2)*15))
	}
	return form
}
