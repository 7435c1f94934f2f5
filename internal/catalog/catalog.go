package catalog

import (
	"time"

	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/maltedev/clearance-scraper/internal/pagination"
)

// Dedup keeps the first record for every product URL, preserving order.
// The input slice is not modified.
func Dedup(records []models.ProductRecord) []models.ProductRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.ProductRecord, 0, len(records))

	for _, r := range records {
		if _, ok := seen[r.ProductURL]; ok {
			continue
		}
		seen[r.ProductURL] = struct{}{}
		out = append(out, r)
	}

	return out
}

// Build merges the records of one or more pagination runs into a single
// deduplicated catalog.
func Build(label, sourceURL string, scrapedAt time.Time, results ...pagination.Result) models.Catalog {
	var all []models.ProductRecord
	for _, res := range results {
		all = append(all, res.Records...)
	}
	return models.NewCatalog(label, sourceURL, scrapedAt, Dedup(all))
}

// Replicate produces one catalog per store from a single scrape. Every copy
// owns its records, so later edits to one never show up in another.
func Replicate(c models.Catalog, stores []models.StoreIdentity, now func() time.Time) []models.Catalog {
	if now == nil {
		now = time.Now
	}

	out := make([]models.Catalog, 0, len(stores))
	for _, store := range stores {
		store := store
		replica := models.NewCatalog(c.SourceLabel, c.SourceURL, now(), c.Records)
		replica.Source = c.Source
		replica.Store = &store
		out = append(out, replica)
	}

	return out
}
