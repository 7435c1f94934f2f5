package extract

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/maltedev/clearance-scraper/internal/models"
)

// ErrNoMatch is returned by Card implementations when a selector matches no
// element inside the card.
var ErrNoMatch = errors.New("no element matched")

// Card is a handle to one rendered listing tile. It is only valid while the
// page it came from is still loaded.
type Card interface {
	// Text returns the visible text of the first element matching selector.
	Text(selector string) (string, error)
	// Attribute returns the named attribute of the first element matching selector.
	Attribute(selector, name string) (string, error)
	// InnerText returns the visible text of the whole card.
	InnerText() (string, error)
}

// Self targets the card element itself instead of a descendant.
const Self = ":scope"

// Locator is one candidate way of reading a field from a card. An empty Attr
// reads visible text.
type Locator struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr,omitempty"`
}

// Chain is an ordered list of locators tried until one yields a value.
type Chain []Locator

// FieldChains maps every field to its fallback chain.
type FieldChains map[models.Field]Chain

type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger: logger.With("component", "extractor"),
	}
}

// Field walks chain in order and returns the first non-empty value. Errors
// from individual locators count as "did not match".
func (e *Extractor) Field(card Card, chain Chain) (string, bool) {
	for _, loc := range chain {
		value, err := read(card, loc)
		if err != nil {
			if !errors.Is(err, ErrNoMatch) {
				e.logger.Debug("locator failed", "selector", loc.Selector, "attr", loc.Attr, "error", err)
			}
			continue
		}

		value = strings.TrimSpace(value)
		if value != "" {
			return value, true
		}
	}

	return "", false
}

// Extract reads every configured field from card. When no badge chain is
// configured the whole card text stands in for the badge.
func (e *Extractor) Extract(card Card, chains FieldChains) models.RawFieldSet {
	raw := make(models.RawFieldSet, len(models.Fields))

	for _, field := range models.Fields {
		chain, ok := chains[field]
		if !ok || len(chain) == 0 {
			continue
		}
		if value, found := e.Field(card, chain); found {
			raw[field] = value
		}
	}

	if _, ok := chains[models.FieldBadgeText]; !ok {
		if text, err := card.InnerText(); err == nil && strings.TrimSpace(text) != "" {
			raw[models.FieldBadgeText] = strings.TrimSpace(text)
		}
	}

	return raw
}

func read(card Card, loc Locator) (string, error) {
	selector := loc.Selector
	if selector == Self {
		selector = ""
	}

	if loc.Attr != "" {
		return card.Attribute(selector, loc.Attr)
	}
	if selector == "" {
		return card.InnerText()
	}
	return card.Text(selector)
}
