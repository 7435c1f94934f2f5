package models

import (
	"strconv"
	"time"
)

// Field names a value pulled out of a listing card.
type Field string

const (
	FieldTitle             Field = "title"
	FieldProductURL        Field = "productUrl"
	FieldImageURL          Field = "imageUrl"
	FieldCurrentPriceText  Field = "currentPriceText"
	FieldOriginalPriceText Field = "originalPriceText"
	FieldBadgeText         Field = "badgeText"
)

// Fields lists every known field in extraction order.
var Fields = []Field{
	FieldTitle,
	FieldProductURL,
	FieldImageURL,
	FieldCurrentPriceText,
	FieldOriginalPriceText,
	FieldBadgeText,
}

// RawFieldSet holds the raw strings extracted from one card. A field that
// could not be extracted is simply missing from the map.
type RawFieldSet map[Field]string

func (r RawFieldSet) Get(f Field) (string, bool) {
	v, ok := r[f]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Valid reports whether the set carries both a title and a product URL.
func (r RawFieldSet) Valid() bool {
	_, hasTitle := r.Get(FieldTitle)
	_, hasURL := r.Get(FieldProductURL)
	return hasTitle && hasURL
}

// ProductRecord is one normalized listing. Records are treated as immutable
// once built; use Clone before handing one to another owner.
type ProductRecord struct {
	Title           string   `json:"title"`
	ProductURL      string   `json:"productUrl"`
	ImageURL        *string  `json:"imageUrl,omitempty"`
	CurrentPrice    *float64 `json:"currentPrice,omitempty"`
	OriginalPrice   *float64 `json:"originalPrice,omitempty"`
	DiscountPercent *int     `json:"discountPercent,omitempty"`
	ClearanceFlag   bool     `json:"clearanceFlag"`
}

// Clone returns a deep copy so that no pointer is shared with r.
func (r ProductRecord) Clone() ProductRecord {
	out := r
	if r.ImageURL != nil {
		v := *r.ImageURL
		out.ImageURL = &v
	}
	if r.CurrentPrice != nil {
		v := *r.CurrentPrice
		out.CurrentPrice = &v
	}
	if r.OriginalPrice != nil {
		v := *r.OriginalPrice
		out.OriginalPrice = &v
	}
	if r.DiscountPercent != nil {
		v := *r.DiscountPercent
		out.DiscountPercent = &v
	}
	return out
}

func (r ProductRecord) Validate() []string {
	var problems []string

	if r.Title == "" {
		problems = append(problems, "title is required")
	}

	if r.ProductURL == "" {
		problems = append(problems, "product url is required")
	}

	return problems
}

// Catalog is the output of one scrape run, optionally tagged with the store
// it was replicated to.
type Catalog struct {
	// Source is the site key the catalog was scraped from, e.g. "rona".
	Source      string          `json:"source,omitempty"`
	SourceLabel string          `json:"sourceLabel"`
	SourceURL   string          `json:"sourceUrl"`
	ScrapedAt   time.Time       `json:"scrapedAt"`
	Store       *StoreIdentity  `json:"store,omitempty"`
	Count       int             `json:"count"`
	Records     []ProductRecord `json:"records"`
}

// NewCatalog builds a catalog that owns a deep copy of records.
func NewCatalog(label, url string, scrapedAt time.Time, records []ProductRecord) Catalog {
	return Catalog{
		SourceLabel: label,
		SourceURL:   url,
		ScrapedAt:   scrapedAt,
		Count:       len(records),
		Records:     CloneRecords(records),
	}
}

func CloneRecords(records []ProductRecord) []ProductRecord {
	out := make([]ProductRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// SourceKey names the source in paths and queries: Source when set,
// otherwise the slugified label.
func (c Catalog) SourceKey() string {
	if c.Source != "" {
		return c.Source
	}
	return Slugify(c.SourceLabel)
}

func (c Catalog) Validate() []string {
	var problems []string

	if c.SourceLabel == "" {
		problems = append(problems, "source label is required")
	}
	if c.ScrapedAt.IsZero() {
		problems = append(problems, "scraped at is required")
	}
	if c.Count != len(c.Records) {
		problems = append(problems, "count does not match records")
	}

	seen := make(map[string]struct{}, len(c.Records))
	for i, r := range c.Records {
		for _, e := range r.Validate() {
			problems = append(problems, "record "+strconv.Itoa(i)+": "+e)
		}
		if _, dup := seen[r.ProductURL]; dup {
			problems = append(problems, "duplicate product url "+r.ProductURL)
		}
		seen[r.ProductURL] = struct{}{}
	}

	return problems
}
