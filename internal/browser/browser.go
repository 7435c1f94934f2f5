package browser

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browser owns one Playwright driver and one Chromium process. Each site run
// gets its own context through NewSession.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[*Page]struct{}
}

type Proxy struct {
	Server   string
	Username string
	Password string
}

type Options struct {
	Headless          bool
	Timeout           time.Duration
	NavigationRetries int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	Proxy             Proxy
	ExtraHeaders      map[string]string
	// BlockMarkers are page substrings that identify an interstitial or
	// access-denied page.
	BlockMarkers []string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		Timeout:           60 * time.Second,
		NavigationRetries: 2,
		AcceptLanguage:    "fr-CA,fr;q=0.9,en-CA;q=0.8,en;q=0.7",
		TimezoneID:        "America/Toronto",
		Locale:            "fr-CA",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
		BlockMarkers: []string{
			"Robot or human?",
			"Access Denied",
			"px-captcha",
		},
	}
}

// SessionOptions carries the per-session fingerprint.
type SessionOptions struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// Snapshot makes Cards parse a DOM snapshot instead of querying live
	// locators.
	Snapshot bool
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}

	if proxy := launchProxy(opts.Proxy); proxy != nil {
		launchOpts.Proxy = proxy
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:       pw,
		browser:  browser,
		opts:     opts,
		logger:   slog.Default().With("component", "browser"),
		sessions: make(map[*Page]struct{}),
	}, nil
}

func launchProxy(p Proxy) *playwright.Proxy {
	if p.Server == "" {
		return nil
	}
	proxy := &playwright.Proxy{Server: p.Server}
	if p.Username != "" {
		proxy.Username = playwright.String(p.Username)
	}
	if p.Password != "" {
		proxy.Password = playwright.String(p.Password)
	}
	return proxy
}

// NewSession opens an isolated browser context with its own user agent and
// viewport and returns its single page.
func (b *Browser) NewSession(so SessionOptions) (*Page, error) {
	context, err := b.browser.NewContext(b.contextOptions(so))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	p := newPage(page, context, b.opts, so.Snapshot, b.logger)
	p.onClose = b.forget

	b.mu.Lock()
	b.sessions[p] = struct{}{}
	b.mu.Unlock()

	return p, nil
}

func (b *Browser) contextOptions(so SessionOptions) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		ExtraHttpHeaders:  b.extraHeaders(),
	}
	if so.UserAgent != "" {
		opts.UserAgent = playwright.String(so.UserAgent)
	}
	if so.ViewportWidth > 0 && so.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{
			Width:  so.ViewportWidth,
			Height: so.ViewportHeight,
		}
	}
	return opts
}

func (b *Browser) extraHeaders() map[string]string {
	headers := make(map[string]string, len(b.opts.ExtraHeaders)+1)
	for k, v := range b.opts.ExtraHeaders {
		headers[k] = v
	}
	if b.opts.AcceptLanguage != "" {
		headers["Accept-Language"] = b.opts.AcceptLanguage
	}
	return headers
}

func (b *Browser) forget(p *Page) {
	b.mu.Lock()
	delete(b.sessions, p)
	b.mu.Unlock()
}

// Close closes every open session, then the browser and the driver.
func (b *Browser) Close() error {
	var errs []error

	b.mu.Lock()
	open := make([]*Page, 0, len(b.sessions))
	for p := range b.sessions {
		open = append(open, p)
	}
	b.mu.Unlock()

	for _, p := range open {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}
