package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/clearance-scraper/internal/extract"
)

var whitespace = regexp.MustCompile(`\s+`)

// Document is a parsed snapshot of a rendered listing page.
type Document struct {
	doc *goquery.Document
}

func NewDocument(html string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{doc: doc}, nil
}

// Cards returns one card per element matching selector, in document order.
func (d *Document) Cards(selector string) []extract.Card {
	var cards []extract.Card
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		cards = append(cards, NewSelectionCard(s))
	})
	return cards
}

// Exists reports whether any element matches selector.
func (d *Document) Exists(selector string) bool {
	return d.doc.Find(selector).Length() > 0
}

// SelectionCard implements extract.Card over a goquery selection.
type SelectionCard struct {
	sel *goquery.Selection
}

func NewSelectionCard(sel *goquery.Selection) *SelectionCard {
	return &SelectionCard{sel: sel}
}

func (c *SelectionCard) find(selector string) *goquery.Selection {
	if selector == "" {
		return c.sel
	}
	return c.sel.Find(selector).First()
}

func (c *SelectionCard) Text(selector string) (string, error) {
	s := c.find(selector)
	if s.Length() == 0 {
		return "", extract.ErrNoMatch
	}
	return collapse(s.Text()), nil
}

func (c *SelectionCard) Attribute(selector, name string) (string, error) {
	s := c.find(selector)
	if s.Length() == 0 {
		return "", extract.ErrNoMatch
	}
	value, exists := s.Attr(name)
	if !exists {
		return "", extract.ErrNoMatch
	}
	return value, nil
}

func (c *SelectionCard) InnerText() (string, error) {
	return collapse(c.sel.Text()), nil
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
