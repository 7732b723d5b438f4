package rod

import (
	"context"
	"fmt"
	"sync"
	"time"

	"search-agent/internal/application/port/output"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

var _ output.PageGetter = (*BrowserAdapter)(nil)

// BrowserAdapter renders pages in headless Chrome before returning their
// HTML, for sites that build content with JavaScript. Each Get opens and
// closes its own tab, so concurrent calls are allowed.
type BrowserAdapter struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      BrowserConfig
	once     sync.Once
}

type BrowserConfig struct {
	Headless  bool
	NoSandbox bool
	Proxy     string
	UserAgent string
	// Timeout bounds one navigation including load.
	Timeout time.Duration
	// IdleWait is how long to wait for network idle after load; 0 skips it.
	IdleWait time.Duration
}

func DefaultConfig() BrowserConfig {
	return BrowserConfig{
		Headless:  true,
		NoSandbox: true,
		Timeout:   30 * time.Second,
		IdleWait:  2 * time.Second,
	}
}

func NewBrowserAdapter(ctx context.Context, cfg BrowserConfig) (*BrowserAdapter, error) {
	l := launcher.New().
		Context(ctx).
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox).
		Delete("use-mock-keychain")
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &BrowserAdapter{
		browser:  browser,
		launcher: l,
		cfg:      cfg,
	}, nil
}

func (b *BrowserAdapter) Get(ctx context.Context, url string) (*output.PageResponse, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	defer page.Close()

	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	resp := &output.PageResponse{URL: url}
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		resp.StatusCode = e.Response.Status
		resp.ContentType = e.Response.MIMEType
		resp.URL = e.Response.URL
		return true
	})

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	wait()

	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	if b.cfg.IdleWait > 0 {
		_ = page.WaitIdle(b.cfg.IdleWait)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	resp.Body = html
	return resp, nil
}

func (b *BrowserAdapter) Close() {
	b.once.Do(func() {
		if b.browser != nil {
			_ = b.browser.Close()
		}
		if b.launcher != nil {
			b.launcher.Kill()
			b.launcher.Cleanup()
		}
	})
}
