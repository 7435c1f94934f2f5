package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/clearance-scraper/internal/models"
)

// ErrCatalogNotFound is returned when no catalog matches a lookup.
var ErrCatalogNotFound = errors.New("catalog not found")

// CatalogRepository persists catalogs and their products.
type CatalogRepository struct {
	db *DB
}

func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// SaveWithTx writes c and its records inside tx and returns the new catalog id.
func (r *CatalogRepository) SaveWithTx(ctx context.Context, tx pgx.Tx, c models.Catalog) (uuid.UUID, error) {
	id := uuid.New()

	var storeID, storeSlug, storeName *string
	if c.Store != nil {
		storeID, storeSlug, storeName = &c.Store.ID, &c.Store.Slug, &c.Store.Name
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO catalog (
			id, source, source_label, source_url, store_id, store_slug,
			store_name, scraped_at, product_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, c.SourceKey(), c.SourceLabel, c.SourceURL, storeID, storeSlug, storeName,
		c.ScrapedAt, len(c.Records),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert catalog: %w", err)
	}

	if len(c.Records) == 0 {
		return id, nil
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"catalog_product"},
		[]string{
			"catalog_id", "position", "title", "product_url", "image_url",
			"current_price", "original_price", "discount_percent", "clearance",
		},
		pgx.CopyFromSlice(len(c.Records), func(i int) ([]any, error) {
			rec := c.Records[i]
			return []any{
				id, i, rec.Title, rec.ProductURL, rec.ImageURL,
				rec.CurrentPrice, rec.OriginalPrice, rec.DiscountPercent, rec.ClearanceFlag,
			}, nil
		}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to copy catalog products: %w", err)
	}

	return id, nil
}

// Latest loads the most recent catalog for a source key and store slug. An empty
// slug selects the unreplicated catalog.
func (r *CatalogRepository) Latest(ctx context.Context, source, storeSlug string) (*models.Catalog, error) {
	var (
		id                       uuid.UUID
		c                        models.Catalog
		storeID, slug, storeName *string
	)

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, source, source_label, source_url, store_id, store_slug,
			store_name, scraped_at
		FROM catalog
		WHERE source = $1 AND COALESCE(store_slug, '') = $2
		ORDER BY scraped_at DESC
		LIMIT 1`,
		source, storeSlug,
	).Scan(&id, &c.Source, &c.SourceLabel, &c.SourceURL, &storeID, &slug, &storeName, &c.ScrapedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}

	if slug != nil {
		c.Store = &models.StoreIdentity{Slug: *slug}
		if storeID != nil {
			c.Store.ID = *storeID
		}
		if storeName != nil {
			c.Store.Name = *storeName
		}
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT title, product_url, image_url, current_price::float8,
			original_price::float8, discount_percent, clearance
		FROM catalog_product
		WHERE catalog_id = $1
		ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.ProductRecord
		if err := rows.Scan(
			&rec.Title, &rec.ProductURL, &rec.ImageURL, &rec.CurrentPrice,
			&rec.OriginalPrice, &rec.DiscountPercent, &rec.ClearanceFlag,
		); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		c.Records = append(c.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	c.Count = len(c.Records)
	return &c, nil
}
