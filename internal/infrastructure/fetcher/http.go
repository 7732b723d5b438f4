package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"search-agent/internal/application/port/output"

	"golang.org/x/net/html/charset"
)

var _ output.PageGetter = (*HTTPGetter)(nil)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

const defaultMaxBodyBytes = 10 << 20

type HTTPConfig struct {
	Headers map[string]string
	// Timeout of zero means no client timeout.
	Timeout         time.Duration
	VerifyTLS       bool
	Proxy           string
	FollowRedirects bool
	MaxBodyBytes    int64
}

func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Headers:         map[string]string{"User-Agent": DefaultUserAgent},
		Timeout:         20 * time.Second,
		VerifyTLS:       true,
		FollowRedirects: true,
		MaxBodyBytes:    defaultMaxBodyBytes,
	}
}

// HTTPGetter issues plain GET requests and decodes the body to UTF-8.
type HTTPGetter struct {
	client  *http.Client
	headers map[string]string
	maxBody int64
}

func NewHTTPGetter(cfg HTTPConfig) (*HTTPGetter, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &HTTPGetter{client: client, headers: cfg.Headers, maxBody: maxBody}, nil
}

func (g *HTTPGetter) Get(ctx context.Context, rawURL string) (*output.PageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range g.headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &output.PageResponse{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, g.maxBody))
		return page, nil
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, g.maxBody), page.ContentType)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		return page, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	page.Body = string(data)
	return page, nil
}
