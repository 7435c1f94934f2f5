package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/clearance-scraper/internal/browser"
	"github.com/maltedev/clearance-scraper/internal/camouflage"
	"github.com/maltedev/clearance-scraper/internal/catalog"
	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/maltedev/clearance-scraper/internal/ratelimit"
	"github.com/maltedev/clearance-scraper/internal/sink"
	"github.com/maltedev/clearance-scraper/internal/sites"
	"github.com/maltedev/clearance-scraper/internal/stores"
	"golang.org/x/sync/errgroup"
)

// Session is one isolated browser session driving a single site.
type Session interface {
	pagination.Page
	Close() error
}

// Fingerprint is the per-session identity presented to a site.
type Fingerprint struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
}

// SessionFactory opens sessions.
type SessionFactory interface {
	Open(ctx context.Context, fp Fingerprint) (Session, error)
}

// BrowserSessions opens sessions as contexts of a shared Playwright browser.
type BrowserSessions struct {
	Browser  *browser.Browser
	Snapshot bool
}

func (b BrowserSessions) Open(ctx context.Context, fp Fingerprint) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := b.Browser.NewSession(browser.SessionOptions{
		UserAgent:      fp.UserAgent,
		ViewportWidth:  fp.ViewportWidth,
		ViewportHeight: fp.ViewportHeight,
		Snapshot:       b.Snapshot,
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Report summarizes one site run.
type Report struct {
	Site     string
	Records  int
	Catalogs int
	Pages    int
	Reason   pagination.Reason
	Dropped  int
	Filtered int
	Failures int
	Duration time.Duration
	Err      error
}

func (r Report) Failed() bool {
	return r.Err != nil
}

type Options struct {
	// Concurrency bounds the number of sites scraped at once.
	Concurrency int
	// MaxPages overrides every site's page limit when positive.
	MaxPages     int
	PageDelayMin time.Duration
	PageDelayMax time.Duration
	Behavior     *camouflage.Behavior
	Now          func() time.Time
	// Directory resolves a site's stores file. Defaults to a FileDirectory.
	Directory func(path string) stores.Directory
}

func DefaultOptions() Options {
	return Options{
		Concurrency:  2,
		PageDelayMin: 2 * time.Second,
		PageDelayMax: 5 * time.Second,
	}
}

// Runner scrapes sites concurrently and hands every catalog to a sink.
type Runner struct {
	bundle   sites.Bundle
	sessions SessionFactory
	sink     sink.Sink
	opts     Options
	logger   *slog.Logger
}

func New(bundle sites.Bundle, sessions SessionFactory, out sink.Sink, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Behavior == nil {
		opts.Behavior = camouflage.New(camouflage.Options{Logger: logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Directory == nil {
		opts.Directory = func(path string) stores.Directory {
			return stores.NewFileDirectory(path)
		}
	}

	return &Runner{
		bundle:   bundle,
		sessions: sessions,
		sink:     out,
		opts:     opts,
		logger:   logger.With("component", "runner"),
	}
}

// Sites returns the configured site names.
func (r *Runner) Sites() []string {
	return r.bundle.Names()
}

// Run scrapes names, or every configured site when names is empty, and
// returns one report per site in the order requested. A failing site never
// stops the others.
func (r *Runner) Run(ctx context.Context, names []string) []Report {
	if len(names) == 0 {
		names = r.bundle.Names()
	}

	reports := make([]Report, len(names))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			reports[i] = r.RunSite(ctx, name)
			return nil
		})
	}
	g.Wait()

	return reports
}

// RunSite scrapes one site in its own session and writes the resulting
// catalogs. Catalogs are only written when the scrape finished without a
// fatal error.
func (r *Runner) RunSite(ctx context.Context, name string) Report {
	start := time.Now()
	report := Report{Site: name}
	logger := r.logger.With("site", name)

	err := r.runSite(ctx, name, logger, &report)
	report.Duration = time.Since(start)
	if err != nil {
		report.Err = err
		logger.Error("site run failed", "error", err, "pages", report.Pages)
		return report
	}

	logger.Info("site run completed",
		"pages", report.Pages,
		"records", report.Records,
		"catalogs", report.Catalogs,
		"reason", report.Reason,
		"duration", report.Duration)
	return report
}

func (r *Runner) runSite(ctx context.Context, name string, logger *slog.Logger, report *Report) error {
	cfg, err := r.bundle.Site(name)
	if err != nil {
		return err
	}
	opts, err := cfg.ControllerOptions()
	if err != nil {
		return err
	}
	if r.opts.MaxPages > 0 {
		opts.MaxPages = r.opts.MaxPages
	}

	// Resolve stores before opening a browser so a bad stores file fails fast.
	var branches []models.StoreIdentity
	if cfg.StoresFile != "" {
		branches, err = r.opts.Directory(cfg.StoresFile).Stores(ctx)
		if err != nil {
			return fmt.Errorf("failed to load stores: %w", err)
		}
	}

	behavior := r.opts.Behavior
	width, height := behavior.RandomViewport()
	session, err := r.sessions.Open(ctx, Fingerprint{
		UserAgent:      behavior.SelectUserAgent(),
		ViewportWidth:  width,
		ViewportHeight: height,
	})
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	limiter := ratelimit.NewAdaptiveRateLimiter(r.opts.PageDelayMin, r.opts.PageDelayMax)
	res, err := pagination.NewController(opts, behavior, limiter, logger).Run(ctx, session)
	report.Pages = res.Pages
	report.Reason = res.Reason
	report.Dropped = res.Dropped
	report.Filtered = res.Filtered
	report.Failures = len(res.Failures)
	if err != nil {
		return err
	}

	c := catalog.Build(cfg.Label, cfg.PageURL(1), r.opts.Now(), res)
	c.Source = name
	report.Records = c.Count

	catalogs := []models.Catalog{c}
	if cfg.StoresFile != "" {
		catalogs = catalog.Replicate(c, branches, r.opts.Now)
	}

	for _, out := range catalogs {
		if problems := out.Validate(); len(problems) > 0 {
			return fmt.Errorf("invalid catalog %s: %s", out.SourceKey(), strings.Join(problems, "; "))
		}
	}

	var errs []error
	for _, out := range catalogs {
		if err := r.sink.Write(ctx, out); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Catalogs++
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to write catalogs: %w", err)
	}

	return nil
}

// WithMaxPages returns a runner sharing r's dependencies with the page limit
// overridden. Zero keeps r's configured limit.
func (r *Runner) WithMaxPages(n int) *Runner {
	if n <= 0 {
		return r
	}
	clone := *r
	clone.opts.MaxPages = n
	return &clone
}
