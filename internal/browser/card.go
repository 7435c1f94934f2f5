package browser

import (
	"github.com/maltedev/clearance-scraper/internal/extract"
	"github.com/playwright-community/playwright-go"
)

// LocatorCard implements extract.Card over a live Playwright locator.
type LocatorCard struct {
	loc     playwright.Locator
	timeout *float64
}

func NewLocatorCard(loc playwright.Locator) *LocatorCard {
	return &LocatorCard{
		loc:     loc,
		timeout: playwright.Float(float64(cardReadTimeout.Milliseconds())),
	}
}

func (c *LocatorCard) target(selector string) (playwright.Locator, error) {
	if selector == "" {
		return c.loc, nil
	}

	loc := c.loc.Locator(selector).First()
	count, err := loc.Count()
	if err != nil {
		return nil, classify(err)
	}
	if count == 0 {
		return nil, extract.ErrNoMatch
	}
	return loc, nil
}

func (c *LocatorCard) Text(selector string) (string, error) {
	loc, err := c.target(selector)
	if err != nil {
		return "", err
	}
	text, err := loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: c.timeout})
	return text, classify(err)
}

func (c *LocatorCard) Attribute(selector, name string) (string, error) {
	loc, err := c.target(selector)
	if err != nil {
		return "", err
	}
	value, err := loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: c.timeout})
	if err != nil {
		return "", classify(err)
	}
	if value == "" {
		return "", extract.ErrNoMatch
	}
	return value, nil
}

func (c *LocatorCard) InnerText() (string, error) {
	text, err := c.loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: c.timeout})
	return text, classify(err)
}
