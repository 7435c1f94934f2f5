package sites

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/maltedev/clearance-scraper/internal/extract"
	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/pagination"
	"github.com/maltedev/clearance-scraper/internal/price"
	"github.com/titanous/json5"
)

//go:embed default.json5
var defaultBundle []byte

var ErrUnknownSite = errors.New("unknown site")

// Config describes how to scrape one retailer listing. Selectors live here,
// not in code.
type Config struct {
	Label             string                  `json:"label"`
	BaseURL           string                  `json:"baseUrl"`
	ListingURL        string                  `json:"listingUrl"`
	FirstPageURL      string                  `json:"firstPageUrl,omitempty"`
	MaxPages          int                     `json:"maxPages"`
	Pagination        pagination.Strategy     `json:"pagination"`
	NextSelectors     []string                `json:"nextSelectors,omitempty"`
	SkipFailedPages   bool                    `json:"skipFailedPages,omitempty"`
	Readiness         pagination.Readiness    `json:"readiness"`
	Anchor            string                  `json:"anchor,omitempty"`
	CardSelector      string                  `json:"cardSelector"`
	Fields            extract.FieldChains     `json:"fields"`
	DecimalConvention price.DecimalConvention `json:"decimalConvention,omitempty"`
	Retention         price.Retention         `json:"retention"`
	ClearancePattern  string                  `json:"clearancePattern,omitempty"`
	WarmupURL         string                  `json:"warmupUrl,omitempty"`
	StoresFile        string                  `json:"storesFile,omitempty"`
}

// Bundle is a named set of site configurations.
type Bundle struct {
	Sites map[string]Config `json:"sites"`
}

// Default returns the built-in bundle.
func Default() (Bundle, error) {
	var b Bundle
	if err := json5.Unmarshal(defaultBundle, &b); err != nil {
		return Bundle{}, fmt.Errorf("failed to parse built-in sites: %w", err)
	}
	return b, nil
}

// Load layers, from lowest to highest priority, the built-in bundle, the
// file at path and <name>.local.<ext> next to it. Missing files are
// skipped; an empty path yields the built-in bundle.
func Load(path string) (Bundle, error) {
	bundle, err := Default()
	if err != nil {
		return Bundle{}, err
	}
	if path == "" {
		return bundle, nil
	}

	for _, candidate := range []string{path, localPath(path)} {
		data, err := os.ReadFile(candidate)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Bundle{}, fmt.Errorf("failed to read sites file %s: %w", candidate, err)
		}

		var override Bundle
		if err := json5.Unmarshal(data, &override); err != nil {
			return Bundle{}, fmt.Errorf("failed to parse sites file %s: %w", candidate, err)
		}
		if err := bundle.merge(override); err != nil {
			return Bundle{}, fmt.Errorf("failed to merge sites file %s: %w", candidate, err)
		}
		slog.Debug("merged sites file", "path", candidate)
	}

	return bundle, nil
}

func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// merge overlays o site by site so that a partial entry only replaces the
// fields it sets.
func (b *Bundle) merge(o Bundle) error {
	if b.Sites == nil {
		b.Sites = make(map[string]Config, len(o.Sites))
	}
	for name, site := range o.Sites {
		base := b.Sites[name]
		if err := mergo.Merge(&base, site, mergo.WithOverride); err != nil {
			return err
		}
		b.Sites[name] = base
	}
	return nil
}

func (b Bundle) Site(name string) (Config, error) {
	site, ok := b.Sites[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownSite, name)
	}
	return site, nil
}

// Names returns the configured site names in sorted order.
func (b Bundle) Names() []string {
	names := make([]string, 0, len(b.Sites))
	for name := range b.Sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PageURL returns the URL of page n (1-based).
func (c Config) PageURL(n int) string {
	return pagination.PageURL(c.ListingURL, c.FirstPageURL, n)
}

func (c Config) Validate() error {
	var problems []string

	if c.ListingURL == "" {
		problems = append(problems, "listingUrl is required")
	}
	if c.CardSelector == "" {
		problems = append(problems, "cardSelector is required")
	}
	if c.MaxPages <= 0 {
		problems = append(problems, "maxPages must be positive")
	}
	switch c.Pagination {
	case "", pagination.StrategyURLParam:
		if c.MaxPages > 1 && !strings.Contains(c.ListingURL, "{page}") {
			problems = append(problems, "listingUrl needs a {page} placeholder")
		}
	case pagination.StrategyNextControl:
		if len(c.NextSelectors) == 0 {
			problems = append(problems, "nextSelectors are required for next-control pagination")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown pagination strategy %q", c.Pagination))
	}
	switch c.Readiness {
	case "", pagination.ReadyNetworkIdle, pagination.ReadyDOMContent:
	case pagination.ReadyElementPresent:
		if c.Anchor == "" && c.CardSelector == "" {
			problems = append(problems, "anchor is required for elementPresent readiness")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown readiness %q", c.Readiness))
	}
	switch c.DecimalConvention {
	case "", price.DecimalComma, price.ThousandsComma:
	default:
		problems = append(problems, fmt.Sprintf("unknown decimal convention %q", c.DecimalConvention))
	}
	if len(c.Fields[models.FieldTitle]) == 0 || len(c.Fields[models.FieldProductURL]) == 0 {
		problems = append(problems, "fields.title and fields.productUrl are required")
	}
	if _, err := c.clearance(); err != nil {
		problems = append(problems, fmt.Sprintf("invalid clearancePattern: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid site config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) clearance() (*regexp.Regexp, error) {
	if c.ClearancePattern == "" {
		return extract.DefaultClearancePattern, nil
	}
	return regexp.Compile(c.ClearancePattern)
}

// ControllerOptions turns the site into pagination options.
func (c Config) ControllerOptions() (pagination.Options, error) {
	if err := c.Validate(); err != nil {
		return pagination.Options{}, err
	}
	pattern, err := c.clearance()
	if err != nil {
		return pagination.Options{}, err
	}

	anchor := c.Anchor
	if anchor == "" {
		anchor = c.CardSelector
	}

	opts := pagination.DefaultOptions()
	opts.ListingURL = c.ListingURL
	opts.FirstPageURL = c.FirstPageURL
	opts.MaxPages = c.MaxPages
	if c.Pagination != "" {
		opts.Strategy = c.Pagination
	}
	opts.NextSelectors = c.NextSelectors
	opts.SkipFailedPages = c.SkipFailedPages
	if c.Readiness != "" {
		opts.Readiness = c.Readiness
	}
	opts.Anchor = anchor
	opts.CardSelector = c.CardSelector
	opts.Fields = c.Fields
	opts.Retention = c.Retention
	opts.WarmupURL = c.WarmupURL
	opts.Builder = extract.RecordBuilder{
		BaseURL:   c.BaseURL,
		Prices:    price.Parser{Convention: c.DecimalConvention},
		Clearance: pattern,
	}

	return opts, nil
}
