package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/maltedev/clearance-scraper/internal/browser"
	"github.com/maltedev/clearance-scraper/internal/camouflage"
	"github.com/maltedev/clearance-scraper/internal/runner"
	"github.com/spf13/cobra"
)

var (
	scrapeMaxPages    *int
	scrapeSnapshot    *bool
	scrapeConcurrency *int
)

func init() {
	scrapeMaxPages = scrapeCmd.Flags().Int("max-pages", 0, "Override every site's page limit.")
	scrapeSnapshot = scrapeCmd.Flags().Bool("snapshot", false, "Extract cards from a DOM snapshot instead of live locators.")
	scrapeConcurrency = scrapeCmd.Flags().Int("concurrency", 0, "Sites scraped at once. Overrides SCRAPER_CONCURRENT_LIMIT.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [site...]",
	Short: "Scrapes the named sites, or every configured site, and writes their catalogs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := loadEnvironment(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, name := range args {
			if _, err := env.bundle.Site(name); err != nil {
				return err
			}
		}

		cfg := env.cfg
		if cmd.Flags().Changed("snapshot") {
			cfg.Scraper.Snapshot = *scrapeSnapshot
		}
		if *scrapeConcurrency > 0 {
			cfg.Scraper.ConcurrentLimit = *scrapeConcurrency
		}
		if *scrapeMaxPages > 0 {
			cfg.Scraper.MaxPages = *scrapeMaxPages
		}

		b, err := browser.New(cfg.BrowserOptions())
		if err != nil {
			return fmt.Errorf("failed to initialize browser: %w", err)
		}
		defer b.Close()

		r := newRunner(env, b)
		reports := r.Run(ctx, args)

		renderReports(os.Stdout, reports)

		if failed := failedSites(reports); len(failed) > 0 {
			return fmt.Errorf("%d of %d sites failed: %v", len(failed), len(reports), failed)
		}
		return nil
	},
}

func newRunner(env *environment, b *browser.Browser) *runner.Runner {
	cfg := env.cfg

	opts := runner.DefaultOptions()
	opts.Concurrency = cfg.Scraper.ConcurrentLimit
	opts.MaxPages = cfg.Scraper.MaxPages
	opts.PageDelayMin = cfg.Scraper.RateLimitMin
	opts.PageDelayMax = cfg.Scraper.RateLimitMax
	opts.Behavior = camouflage.New(camouflage.Options{
		UserAgents: cfg.Scraper.UserAgents,
		Logger:     env.logger,
	})

	sessions := runner.BrowserSessions{Browser: b, Snapshot: cfg.Scraper.Snapshot}
	return runner.New(env.bundle, sessions, env.sink, opts, env.logger)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func renderReports(w io.Writer, reports []runner.Report) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Site", "Pages", "Records", "Catalogs", "Dropped", "Filtered", "Reason", "Duration", "Error"})

	var pages, records int
	for _, r := range reports {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{
			r.Site, r.Pages, r.Records, r.Catalogs, r.Dropped, r.Filtered,
			string(r.Reason), r.Duration.Round(100 * time.Millisecond).String(), errText,
		})
		pages += r.Pages
		records += r.Records
	}

	t.AppendFooter(table.Row{"Total", pages, records, "", "", "", "", "", strconv.Itoa(len(failedSites(reports))) + " failed"})
	t.Render()
}

func failedSites(reports []runner.Report) []string {
	var failed []string
	for _, r := range reports {
		if r.Failed() {
			failed = append(failed, r.Site)
		}
	}
	return failed
}
