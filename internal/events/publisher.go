package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/clearance-scraper/internal/database"
	"github.com/maltedev/clearance-scraper/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeCatalogPublished is emitted once per stored catalog
	EventTypeCatalogPublished EventType = "CATALOG_PUBLISHED"

	aggregateCatalog = "catalog"
)

// CatalogPublishedPayload is the body of a CATALOG_PUBLISHED event. It
// summarizes the catalog; consumers read the records from the catalog tables.
type CatalogPublishedPayload struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	CatalogID      string    `json:"catalog_id"`
	Source         string    `json:"source"`
	SourceLabel    string    `json:"source_label"`
	SourceURL      string    `json:"source_url"`
	StoreID        string    `json:"store_id,omitempty"`
	StoreSlug      string    `json:"store_slug,omitempty"`
	Count          int       `json:"count"`
	ClearanceCount int       `json:"clearance_count"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// NewCatalogPublishedPayload summarizes c, stored under catalogID.
func NewCatalogPublishedPayload(catalogID uuid.UUID, c models.Catalog) *CatalogPublishedPayload {
	p := &CatalogPublishedPayload{
		CatalogID:   catalogID.String(),
		Source:      c.SourceKey(),
		SourceLabel: c.SourceLabel,
		SourceURL:   c.SourceURL,
		Count:       c.Count,
		ScrapedAt:   c.ScrapedAt,
	}
	if c.Store != nil {
		p.StoreID = c.Store.ID
		p.StoreSlug = c.Store.Slug
	}
	for _, r := range c.Records {
		if r.ClearanceFlag {
			p.ClearanceCount++
		}
	}
	return p
}

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// CatalogWriter stores a catalog inside a transaction.
type CatalogWriter interface {
	SaveWithTx(ctx context.Context, tx pgx.Tx, c models.Catalog) (uuid.UUID, error)
}

// OutboxWriter appends an event to the outbox inside a transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher handles event publishing using transactional outbox pattern
type Publisher struct {
	db       TxRunner
	catalogs CatalogWriter
	outbox   OutboxWriter
	stream   string
	logger   *slog.Logger
}

// NewPublisher creates a new event publisher with database connection
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:       db,
		catalogs: database.NewCatalogRepository(db),
		outbox:   database.NewOutboxRepository(db),
		stream:   database.DefaultTargetStream,
		logger:   logger.With("component", "event_publisher"),
	}
}

// PublishCatalog stores c and its CATALOG_PUBLISHED event in one
// transaction and returns the catalog id. Nothing is written when either
// insert fails.
func (p *Publisher) PublishCatalog(ctx context.Context, c models.Catalog) (uuid.UUID, error) {
	var (
		catalogID uuid.UUID
		payload   *CatalogPublishedPayload
		event     *database.OutboxEvent
	)

	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		id, err := p.catalogs.SaveWithTx(ctx, tx, c)
		if err != nil {
			return fmt.Errorf("failed to save catalog: %w", err)
		}

		payload = NewCatalogPublishedPayload(id, c)
		payload.EventID = uuid.New().String()
		payload.EventType = string(EventTypeCatalogPublished)
		payload.Timestamp = time.Now()

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		event = &database.OutboxEvent{
			AggregateType: aggregateCatalog,
			AggregateID:   id.String(),
			EventType:     string(EventTypeCatalogPublished),
			Payload:       data,
			TargetStream:  p.stream,
		}
		if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}

		catalogID = id
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish catalog: %w", err)
	}

	p.logger.Info("catalog published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"catalog_id", catalogID,
		"source", payload.Source,
		"store", payload.StoreSlug,
		"count", c.Count,
		"outbox_id", event.ID,
	)

	return catalogID, nil
}
