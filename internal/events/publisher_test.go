package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/clearance-scraper/internal/database"
	"github.com/maltedev/clearance-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTxRunner runs fn with a nil transaction and reports what fn returned
type MockTxRunner struct {
	mock.Mock
}

func (m *MockTxRunner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(nil)
}

type MockCatalogWriter struct {
	mock.Mock
}

func (m *MockCatalogWriter) SaveWithTx(ctx context.Context, tx pgx.Tx, c models.Catalog) (uuid.UUID, error) {
	args := m.Called(ctx, tx, c)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type MockOutboxWriter struct {
	mock.Mock
}

func (m *MockOutboxWriter) InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return args.Error(0)
}

func testCatalog() models.Catalog {
	price := 12.5
	store := models.NewStoreIdentity("124", "Laval", "")
	c := models.NewCatalog("Bureau en Gros - Centre de liquidation", "https://www.bureauengros.com/collections/clearance", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), []models.ProductRecord{
		{Title: "Chaise de bureau", ProductURL: "https://www.bureauengros.com/p/1", CurrentPrice: &price, ClearanceFlag: true},
		{Title: "Agrafeuse", ProductURL: "https://www.bureauengros.com/p/2"},
	})
	c.Source = "bureauengros"
	c.Store = &store
	return c
}

func newTestPublisher() (*Publisher, *MockTxRunner, *MockCatalogWriter, *MockOutboxWriter) {
	db := new(MockTxRunner)
	catalogs := new(MockCatalogWriter)
	outbox := new(MockOutboxWriter)
	return &Publisher{
		db:       db,
		catalogs: catalogs,
		outbox:   outbox,
		stream:   database.DefaultTargetStream,
		logger:   slog.Default(),
	}, db, catalogs, outbox
}

func TestPublisher_PublishCatalog(t *testing.T) {
	ctx := context.Background()

	t.Run("stores catalog and event together", func(t *testing.T) {
		publisher, db, catalogs, outbox := newTestPublisher()
		c := testCatalog()
		catalogID := uuid.New()

		db.On("WithTx", ctx).Return(nil)
		catalogs.On("SaveWithTx", ctx, nil, c).Return(catalogID, nil)

		var captured *database.OutboxEvent
		outbox.On("InsertWithTx", ctx, nil, mock.AnythingOfType("*database.OutboxEvent")).
			Run(func(args mock.Arguments) { captured = args.Get(2).(*database.OutboxEvent) }).
			Return(nil)

		id, err := publisher.PublishCatalog(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, catalogID, id)

		require.NotNil(t, captured)
		assert.Equal(t, "catalog", captured.AggregateType)
		assert.Equal(t, catalogID.String(), captured.AggregateID)
		assert.Equal(t, "CATALOG_PUBLISHED", captured.EventType)
		assert.Equal(t, "stream:clearance_catalogs", captured.TargetStream)

		var payload CatalogPublishedPayload
		require.NoError(t, json.Unmarshal(captured.Payload, &payload))
		assert.NotEmpty(t, payload.EventID)
		assert.Equal(t, "CATALOG_PUBLISHED", payload.EventType)
		assert.Equal(t, catalogID.String(), payload.CatalogID)
		assert.Equal(t, "bureauengros", payload.Source)
		assert.Equal(t, "124-laval", payload.StoreSlug)
		assert.Equal(t, 2, payload.Count)
		assert.Equal(t, 1, payload.ClearanceCount)
		assert.False(t, payload.Timestamp.IsZero())

		db.AssertExpectations(t)
		catalogs.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("catalog insert failure skips the event", func(t *testing.T) {
		publisher, db, catalogs, outbox := newTestPublisher()
		c := testCatalog()

		db.On("WithTx", ctx).Return(nil)
		catalogs.On("SaveWithTx", ctx, nil, c).Return(uuid.Nil, errors.New("duplicate key"))

		id, err := publisher.PublishCatalog(ctx, c)
		require.Error(t, err)
		assert.Equal(t, uuid.Nil, id)
		assert.Contains(t, err.Error(), "failed to save catalog")
		outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("outbox failure fails the publish", func(t *testing.T) {
		publisher, db, catalogs, outbox := newTestPublisher()
		c := testCatalog()

		db.On("WithTx", ctx).Return(nil)
		catalogs.On("SaveWithTx", ctx, nil, c).Return(uuid.New(), nil)
		outbox.On("InsertWithTx", ctx, nil, mock.Anything).Return(errors.New("outbox full"))

		id, err := publisher.PublishCatalog(ctx, c)
		require.Error(t, err)
		assert.Equal(t, uuid.Nil, id)
		assert.Contains(t, err.Error(), "failed to insert outbox event")
	})

	t.Run("transaction cannot begin", func(t *testing.T) {
		publisher, db, catalogs, _ := newTestPublisher()

		db.On("WithTx", ctx).Return(errors.New("pool closed"))

		_, err := publisher.PublishCatalog(ctx, testCatalog())
		assert.ErrorContains(t, err, "pool closed")
		catalogs.AssertNotCalled(t, "SaveWithTx", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestNewCatalogPublishedPayload(t *testing.T) {
	id := uuid.New()

	c := testCatalog()
	p := NewCatalogPublishedPayload(id, c)
	assert.Equal(t, id.String(), p.CatalogID)
	assert.Equal(t, "124", p.StoreID)
	assert.Equal(t, c.ScrapedAt, p.ScrapedAt)

	c.Store = nil
	p = NewCatalogPublishedPayload(id, c)
	assert.Empty(t, p.StoreID)
	assert.Empty(t, p.StoreSlug)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "store_slug")
}
