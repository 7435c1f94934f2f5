package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/clearance-scraper/internal/extract"
	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/maltedev/clearance-scraper/internal/parser"
	"github.com/playwright-community/playwright-go"
)

// ErrBlocked is returned when navigation lands on an access-denied or
// captcha page. It is not retried.
var ErrBlocked = errors.New("blocked by anti-bot page")

const cardReadTimeout = 2 * time.Second

// Page adapts a Playwright page to pagination.Page.
type Page struct {
	page     playwright.Page
	context  playwright.BrowserContext
	opts     *Options
	snapshot bool
	logger   *slog.Logger

	onClose   func(*Page)
	closeOnce sync.Once
	closeErr  error
}

var _ pagination.Page = (*Page)(nil)

func newPage(page playwright.Page, context playwright.BrowserContext, opts *Options, snapshot bool, logger *slog.Logger) *Page {
	return &Page{
		page:     page,
		context:  context,
		opts:     opts,
		snapshot: snapshot,
		logger:   logger,
	}
}

func (p *Page) MoveMouse(x, y float64, steps int) error {
	return p.page.Mouse().Move(x, y, playwright.MouseMoveOptions{
		Steps: playwright.Int(steps),
	})
}

func (p *Page) Wheel(dx, dy float64) error {
	return p.page.Mouse().Wheel(dx, dy)
}

func (p *Page) ViewportSize() (int, int, bool) {
	size := p.page.ViewportSize()
	if size == nil {
		return 0, 0, false
	}
	return size.Width, size.Height, true
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.NavigateWithRetry(ctx, url, p.opts.NavigationRetries)
}

// NavigateWithRetry retries timed-out navigations with a linear backoff.
// Any other failure is returned immediately.
func (p *Page) NavigateWithRetry(ctx context.Context, url string, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			p.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(p.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			if resp != nil && resp.Status() >= 400 {
				p.logger.Warn("navigation returned error status", "url", url, "status", resp.Status())
			}
			return p.checkBlocked()
		}

		lastErr = classify(err)
		p.logger.Error("navigation failed", "error", err, "attempt", i+1, "url", url)
		if !errors.Is(lastErr, pagination.ErrPageTimeout) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (p *Page) checkBlocked() error {
	if len(p.opts.BlockMarkers) == 0 {
		return nil
	}

	title, err := p.page.Title()
	if err != nil {
		return classify(err)
	}
	content, err := p.page.Content()
	if err != nil {
		return classify(err)
	}

	if marker, ok := blockMarker(title+"\n"+content, p.opts.BlockMarkers); ok {
		p.logger.Warn("anti-bot page detected", "marker", marker, "title", title)
		return fmt.Errorf("%w: %s", ErrBlocked, marker)
	}
	return nil
}

func blockMarker(text string, markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

func (p *Page) WaitReady(ctx context.Context, readiness pagination.Readiness, anchor string) error {
	timeout := playwright.Float(float64(p.opts.Timeout.Milliseconds()))

	var err error
	switch readiness {
	case pagination.ReadyNetworkIdle:
		err = p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: timeout,
		})
	case pagination.ReadyElementPresent:
		if anchor == "" {
			return nil
		}
		err = p.page.Locator(anchor).First().WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateAttached,
			Timeout: timeout,
		})
	default:
		err = p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateDomcontentloaded,
			Timeout: timeout,
		})
	}

	return classify(err)
}

func (p *Page) Cards(ctx context.Context, selector string) ([]extract.Card, error) {
	if p.snapshot {
		html, err := p.page.Content()
		if err != nil {
			return nil, classify(err)
		}
		doc, err := parser.NewDocument(html)
		if err != nil {
			return nil, err
		}
		return doc.Cards(selector), nil
	}

	locators, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, classify(err)
	}

	cards := make([]extract.Card, 0, len(locators))
	for _, loc := range locators {
		cards = append(cards, NewLocatorCard(loc))
	}
	return cards, nil
}

func (p *Page) ClickNext(ctx context.Context, selectors []string) (bool, error) {
	for _, selector := range selectors {
		nextButton := p.page.Locator(selector).First()

		count, err := nextButton.Count()
		if err != nil || count == 0 {
			continue
		}

		if disabled, _ := nextButton.GetAttribute("aria-disabled"); disabled == "true" {
			p.logger.Debug("next control disabled", "selector", selector)
			continue
		}
		if enabled, err := nextButton.IsEnabled(); err == nil && !enabled {
			continue
		}
		if visible, err := nextButton.IsVisible(); err == nil && !visible {
			continue
		}

		if err := nextButton.ScrollIntoViewIfNeeded(); err != nil {
			p.logger.Debug("scroll to next control failed", "error", err)
		}
		if err := nextButton.Click(playwright.LocatorClickOptions{
			Delay: playwright.Float(120),
		}); err != nil {
			return false, classify(err)
		}

		if err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: playwright.Float(float64(p.opts.Timeout.Milliseconds())),
		}); err != nil {
			p.logger.Debug("load state after click", "error", err)
		}
		return true, nil
	}

	return false, nil
}

// Close closes the session's browser context. It is safe to call twice.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		if p.context != nil {
			if err := p.context.Close(); err != nil {
				p.closeErr = fmt.Errorf("failed to close context: %w", err)
			}
		}
		if p.onClose != nil {
			p.onClose(p)
		}
	})
	return p.closeErr
}

// classify maps Playwright timeouts onto pagination.ErrPageTimeout.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", pagination.ErrPageTimeout, err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
