package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/maltedev/clearance-scraper/internal/camouflage"
	"github.com/maltedev/clearance-scraper/internal/extract"
	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/price"
	"github.com/maltedev/clearance-scraper/internal/ratelimit"
)

// Reason records why a run stopped.
type Reason string

const (
	ReasonPageLimit       Reason = "page-limit"
	ReasonEmptyPage       Reason = "empty-page"
	ReasonRepeatedContent Reason = "repeated-content"
	ReasonNoNextControl   Reason = "no-next-control"
	ReasonPageFailure     Reason = "page-failure"
)

type Options struct {
	// ListingURL may contain a {page} placeholder.
	ListingURL   string
	FirstPageURL string
	MaxPages     int
	Strategy     Strategy

	NextSelectors []string
	Readiness     Readiness
	// Anchor is the selector awaited when Readiness is elementPresent.
	Anchor       string
	CardSelector string
	Fields       extract.FieldChains
	Builder      extract.RecordBuilder
	Retention    price.Retention

	// WarmupURL is visited once, best effort, before page 1.
	WarmupURL string
	// SkipFailedPages moves on to the next page after a timeout instead of
	// terminating. Only honoured with StrategyURLParam.
	SkipFailedPages bool

	InitialPauseMin time.Duration
	InitialPauseMax time.Duration
	CardDelayMin    time.Duration
	CardDelayMax    time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxPages:        1,
		Strategy:        StrategyURLParam,
		Readiness:       ReadyDOMContent,
		InitialPauseMin: 400 * time.Millisecond,
		InitialPauseMax: 900 * time.Millisecond,
		CardDelayMin:    100 * time.Millisecond,
		CardDelayMax:    300 * time.Millisecond,
	}
}

// PageFailure is a page that could not be loaded.
type PageFailure struct {
	Page int    `json:"page"`
	URL  string `json:"url,omitempty"`
	Err  string `json:"error"`
}

type Result struct {
	Records []models.ProductRecord
	// Pages counts pages whose records were accepted.
	Pages  int
	Reason Reason
	// Dropped counts cards without a title or product URL.
	Dropped int
	// Filtered counts valid records rejected by the retention policy.
	Filtered int
	Failures []PageFailure
}

// Controller walks a paginated listing on a single page session. A
// Controller is not safe for concurrent use; create one per site run.
type Controller struct {
	opts      Options
	behavior  *camouflage.Behavior
	extractor *extract.Extractor
	limiter   ratelimit.RateLimiter
	logger    *slog.Logger
}

func NewController(opts Options, behavior *camouflage.Behavior, limiter ratelimit.RateLimiter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if behavior == nil {
		behavior = camouflage.New(camouflage.Options{Logger: logger})
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyURLParam
	}

	return &Controller{
		opts:      opts,
		behavior:  behavior,
		extractor: extract.NewExtractor(logger),
		limiter:   limiter,
		logger:    logger.With("component", "pagination"),
	}
}

// Run drives page through the listing until a termination condition is
// met. A non-nil error is only returned for fatal session failures and
// context cancellation; the partial result is returned alongside it.
func (c *Controller) Run(ctx context.Context, page Page) (Result, error) {
	var res Result

	if err := c.prepare(ctx, page); err != nil {
		return res, err
	}

	var (
		previous    uint64
		hasPrevious bool
	)

	for n := 1; ; n++ {
		url, err := c.fetch(ctx, page, n)
		if errors.Is(err, errNoNext) {
			res.Reason = ReasonNoNextControl
			break
		}
		if err == nil {
			var cards []extract.Card
			cards, err = page.Cards(ctx, c.opts.CardSelector)
			if err == nil {
				if len(cards) == 0 {
					c.logger.Info("no cards on page", "page", n)
					res.Reason = ReasonEmptyPage
					break
				}

				fp, ok := fingerprint(cards[0])
				if ok && hasPrevious && fp == previous {
					c.logger.Info("page repeats previous content", "page", n)
					res.Reason = ReasonRepeatedContent
					break
				}

				if err := c.extractPage(ctx, cards, &res); err != nil {
					return res, err
				}
				res.Pages++
				previous, hasPrevious = fp, ok
				c.recordSuccess()
				c.logger.Info("page scraped", "page", n, "cards", len(cards), "total", len(res.Records))
			}
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			if !errors.Is(err, ErrPageTimeout) {
				res.Reason = ReasonPageFailure
				return res, fmt.Errorf("failed to load page %d: %w", n, err)
			}

			res.Failures = append(res.Failures, PageFailure{Page: n, URL: url, Err: err.Error()})
			c.recordError()
			c.logger.Warn("page timed out", "page", n, "url", url, "error", err)

			if !c.opts.SkipFailedPages || c.opts.Strategy != StrategyURLParam {
				res.Reason = ReasonPageFailure
				break
			}
		}

		if n >= c.opts.MaxPages {
			res.Reason = ReasonPageLimit
			break
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
	}

	c.logger.Info("pagination finished", "pages", res.Pages, "records", len(res.Records), "reason", res.Reason)
	return res, nil
}

var errNoNext = errors.New("no next control")

// prepare performs the initial pause, pointer wander and optional warm-up
// visit. Only context errors abort the run.
func (c *Controller) prepare(ctx context.Context, page Page) error {
	if err := c.behavior.RandomDelay(ctx, c.opts.InitialPauseMin, c.opts.InitialPauseMax); err != nil {
		return err
	}
	if err := c.behavior.PointerWander(ctx, page); err != nil {
		return err
	}

	if c.opts.WarmupURL == "" {
		return nil
	}
	if err := page.Navigate(ctx, c.opts.WarmupURL); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("warm-up navigation failed", "url", c.opts.WarmupURL, "error", err)
		return nil
	}
	return c.behavior.RandomDelay(ctx, 800*time.Millisecond, 1200*time.Millisecond)
}

// fetch loads page n, waits for readiness and scrolls through it.
func (c *Controller) fetch(ctx context.Context, page Page, n int) (string, error) {
	var url string

	if n == 1 || c.opts.Strategy == StrategyURLParam {
		url = PageURL(c.opts.ListingURL, c.opts.FirstPageURL, n)
		c.logger.Debug("navigating", "page", n, "url", url)
		if err := page.Navigate(ctx, url); err != nil {
			return url, err
		}
	} else {
		clicked, err := page.ClickNext(ctx, c.opts.NextSelectors)
		if err != nil {
			return "", err
		}
		if !clicked {
			return "", errNoNext
		}
	}

	if err := page.WaitReady(ctx, c.opts.Readiness, c.opts.Anchor); err != nil {
		if ctx.Err() != nil {
			return url, ctx.Err()
		}
		c.logger.Debug("readiness wait failed", "page", n, "readiness", c.opts.Readiness, "error", err)
	}

	return url, c.behavior.GradualScroll(ctx, page)
}

func (c *Controller) extractPage(ctx context.Context, cards []extract.Card, res *Result) error {
	for _, card := range cards {
		raw := c.extractor.Extract(card, c.opts.Fields)
		record, ok := c.opts.Builder.Build(raw)
		switch {
		case !ok:
			res.Dropped++
		case !c.opts.Retention.Keep(record.DiscountPercent):
			res.Filtered++
		default:
			res.Records = append(res.Records, record)
		}

		if err := c.behavior.RandomDelay(ctx, c.opts.CardDelayMin, c.opts.CardDelayMax); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) recordSuccess() {
	if fb, ok := c.limiter.(ratelimit.Feedback); ok {
		fb.RecordSuccess()
	}
}

func (c *Controller) recordError() {
	if fb, ok := c.limiter.(ratelimit.Feedback); ok {
		fb.RecordError()
	}
}

// fingerprint hashes the visible text of a card. Cards without text yield
// no fingerprint and never count as repeated.
func fingerprint(card extract.Card) (uint64, bool) {
	text, err := card.InnerText()
	if err != nil {
		return 0, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	return xxhash.Sum64String(text), true
}
