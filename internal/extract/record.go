package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/price"
)

// DefaultClearancePattern matches the keywords retailers put on clearance tiles.
var DefaultClearancePattern = regexp.MustCompile(`(?i)clearance|liquidation`)

// Canonicalize turns href into an absolute URL resolved against base, with
// the fragment dropped and the scheme and host lower-cased. It returns ""
// when href cannot be made absolute.
func Canonicalize(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil || !b.IsAbs() {
			return ""
		}
		ref = b.ResolveReference(ref)
	}

	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}

	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = strings.ToLower(ref.Host)
	ref.Fragment = ""
	ref.RawFragment = ""
	return ref.String()
}

// RecordBuilder turns raw field sets into normalized product records.
type RecordBuilder struct {
	BaseURL   string
	Prices    price.Parser
	Clearance *regexp.Regexp
}

// Build normalizes raw into a record. It returns false when the title or the
// product URL is missing, in which case the card is dropped.
func (b RecordBuilder) Build(raw models.RawFieldSet) (models.ProductRecord, bool) {
	title, ok := raw.Get(models.FieldTitle)
	if !ok {
		return models.ProductRecord{}, false
	}
	href, ok := raw.Get(models.FieldProductURL)
	if !ok {
		return models.ProductRecord{}, false
	}
	productURL := Canonicalize(b.BaseURL, href)
	if productURL == "" {
		return models.ProductRecord{}, false
	}

	record := models.ProductRecord{
		Title:      title,
		ProductURL: productURL,
	}

	if src, ok := raw.Get(models.FieldImageURL); ok {
		if image := Canonicalize(b.BaseURL, src); image != "" {
			record.ImageURL = &image
		}
	}

	if text, ok := raw.Get(models.FieldCurrentPriceText); ok {
		record.CurrentPrice = b.Prices.Ptr(text)
	}
	if text, ok := raw.Get(models.FieldOriginalPriceText); ok {
		record.OriginalPrice = b.Prices.Ptr(text)
	}
	record.DiscountPercent = price.Discount(record.CurrentPrice, record.OriginalPrice)

	pattern := b.Clearance
	if pattern == nil {
		pattern = DefaultClearancePattern
	}
	if badge, ok := raw.Get(models.FieldBadgeText); ok {
		record.ClearanceFlag = pattern.MatchString(badge)
	}

	return record, true
}
