package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/maltedev/clearance-scraper/internal/models"
)

// unreplicatedDir holds a catalog that carries no store tag.
const unreplicatedDir = "catalog"

// Sink receives finished catalogs.
type Sink interface {
	Write(ctx context.Context, c models.Catalog) error
}

// FileSink writes each catalog to <root>/<source>/<store-slug>/data.json.
type FileSink struct {
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

func NewFileSink(root string) *FileSink {
	return &FileSink{
		root:   root,
		logger: slog.Default().With("component", "file_sink"),
	}
}

// Path returns the file c is written to.
func (s *FileSink) Path(c models.Catalog) string {
	dir := unreplicatedDir
	if c.Store != nil && c.Store.Slug != "" {
		dir = c.Store.Slug
	}
	return filepath.Join(s.root, c.SourceKey(), dir, "data.json")
}

func (s *FileSink) Write(ctx context.Context, c models.Catalog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.SourceKey() == "" {
		return errors.New("catalog has no source")
	}
	if c.Records == nil {
		c.Records = []models.ProductRecord{}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	path := s.Path(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to move catalog into place: %w", err)
	}

	s.logger.Info("catalog written", "path", path, "count", c.Count)
	return nil
}

// Load reads a catalog previously written by Write.
func (s *FileSink) Load(source, storeSlug string) (*models.Catalog, error) {
	if storeSlug == "" {
		storeSlug = unreplicatedDir
	}
	data, err := os.ReadFile(filepath.Join(s.root, source, storeSlug, "data.json"))
	if err != nil {
		return nil, err
	}

	var c models.Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &c, nil
}

// CatalogPublisher stores a catalog and announces it.
type CatalogPublisher interface {
	PublishCatalog(ctx context.Context, c models.Catalog) (uuid.UUID, error)
}

// PostgresSink persists catalogs through the transactional outbox.
type PostgresSink struct {
	publisher CatalogPublisher
}

func NewPostgresSink(publisher CatalogPublisher) *PostgresSink {
	return &PostgresSink{publisher: publisher}
}

func (s *PostgresSink) Write(ctx context.Context, c models.Catalog) error {
	_, err := s.publisher.PublishCatalog(ctx, c)
	return err
}

// Multi writes to every sink in order. All sinks are attempted; the
// returned error joins every failure.
type Multi []Sink

func (m Multi) Write(ctx context.Context, c models.Catalog) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest returns the catalog on disk for source and store slug.
func (s *FileSink) Latest(ctx context.Context, source, storeSlug string) (*models.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Load(source, storeSlug)
}
