package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	called := m.Called(ctx, args)
	return redis.NewStringResult("1700000000000-0", called.Error(0))
}

func (m *MockRedisClient) Close() error {
	return m.Called().Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	events, _ := args.Get(0).([]*OutboxEvent)
	return events, args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return m.Called(ctx, id, err).Error(0)
}

// streamValues returns the field map the relay hands to XADD.
func streamValues(args *redis.XAddArgs) map[string]interface{} {
	values, _ := args.Values.(map[string]interface{})
	return values
}

// streamData decodes the JSON envelope stored under the "data" field.
func streamData(args *redis.XAddArgs) (map[string]interface{}, bool) {
	raw, ok := streamValues(args)["data"].(string)
	if !ok {
		return nil, false
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false
	}
	return data, true
}

func forAggregate(id string) interface{} {
	return mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return streamValues(args)["aggregate_id"] == id
	})
}

func newTestRelay() (*Relay, *MockRedisClient, *MockOutboxRepository) {
	client := new(MockRedisClient)
	outbox := new(MockOutboxRepository)
	return NewRelay(outbox, client, slog.Default(), RelayConfig{BatchSize: 10}), client, outbox
}

func publishedEvent(n int) *OutboxEvent {
	e := catalogEvent(n)
	e.ID = uuid.New()
	e.CreatedAt = time.Date(2026, 3, 2, 9, 0, n, 0, time.UTC)
	return e
}

func TestRelay_ProcessEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes every event and marks it processed", func(t *testing.T) {
		relay, client, outbox := newTestRelay()
		events := []*OutboxEvent{publishedEvent(1), publishedEvent(2)}
		outbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, e := range events {
			e := e
			client.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				values := streamValues(args)
				return args.Stream == DefaultTargetStream &&
					values["event_type"] == "CATALOG_PUBLISHED" &&
					values["aggregate_type"] == "catalog" &&
					values["aggregate_id"] == e.AggregateID &&
					values["original_id"] == e.ID.String()
			})).Return(nil)
			outbox.On("MarkProcessed", ctx, e.ID).Return(nil)
		}

		require.NoError(t, relay.processEvents(ctx))
		client.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("empty batch publishes nothing", func(t *testing.T) {
		relay, client, outbox := newTestRelay()
		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		require.NoError(t, relay.processEvents(ctx))
		client.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("one failed publish does not stop the batch", func(t *testing.T) {
		relay, client, outbox := newTestRelay()
		first, second := publishedEvent(1), publishedEvent(2)
		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{first, second}, nil)

		client.On("XAdd", ctx, forAggregate(first.AggregateID)).Return(errors.New("connection refused"))
		outbox.On("MarkFailed", ctx, first.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: connection refused"
		})).Return(nil)

		client.On("XAdd", ctx, forAggregate(second.AggregateID)).Return(nil)
		outbox.On("MarkProcessed", ctx, second.ID).Return(nil)

		require.NoError(t, relay.processEvents(ctx))
		client.AssertExpectations(t)
		outbox.AssertExpectations(t)
	})

	t.Run("payload that is not JSON is marked failed", func(t *testing.T) {
		relay, client, outbox := newTestRelay()
		e := publishedEvent(1)
		e.Payload = json.RawMessage(`not json`)
		outbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{e}, nil)
		outbox.On("MarkFailed", ctx, e.ID, mock.Anything).Return(nil)

		require.NoError(t, relay.processEvents(ctx))
		client.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		outbox.AssertExpectations(t)
	})

	t.Run("outbox read error", func(t *testing.T) {
		relay, _, outbox := newTestRelay()
		outbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		err := relay.processEvents(ctx)
		assert.ErrorContains(t, err, "failed to get pending events")
	})
}

func TestRelay_PublishToRedis_Envelope(t *testing.T) {
	ctx := context.Background()
	relay, client, _ := newTestRelay()
	e := publishedEvent(7)
	e.RetryCount = 2

	var data map[string]interface{}
	client.On("XAdd", ctx, mock.Anything).
		Run(func(args mock.Arguments) {
			var ok bool
			data, ok = streamData(args.Get(1).(*redis.XAddArgs))
			require.True(t, ok)
		}).
		Return(nil)

	require.NoError(t, relay.publishToRedis(ctx, e))

	assert.Equal(t, e.ID.String(), data["id"])
	assert.Equal(t, "CATALOG_PUBLISHED", data["type"])
	assert.Equal(t, "princessauto-7", data["aggregate_id"])
	assert.Equal(t, "2026-03-02T09:00:07Z", data["timestamp"])

	payload, ok := data["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "princessauto", payload["source"])
	assert.EqualValues(t, 7, payload["count"])

	metadata, ok := data["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "clearance-scraper", metadata["source"])
	assert.Equal(t, DefaultTargetStream, metadata["target_stream"])
	assert.EqualValues(t, 2, metadata["retry_count"])
}

func TestNewRelay_Defaults(t *testing.T) {
	relay := NewRelay(new(MockOutboxRepository), new(MockRedisClient), slog.Default(), RelayConfig{})

	assert.Equal(t, 5*time.Second, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
	assert.Equal(t, "clearance-scraper", relay.source)

	relay = NewRelay(new(MockOutboxRepository), new(MockRedisClient), slog.Default(), RelayConfig{
		PollInterval: time.Second,
		BatchSize:    5,
		Source:       "staging",
	})
	assert.Equal(t, time.Second, relay.interval)
	assert.Equal(t, 5, relay.batchSize)
	assert.Equal(t, "staging", relay.source)
}

func TestRelay_Start_StopsOnCancel(t *testing.T) {
	outbox := new(MockOutboxRepository)
	relay := NewRelay(outbox, new(MockRedisClient), slog.Default(), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    10,
	})
	var polls atomic.Int32
	outbox.On("GetPending", mock.Anything, 10).
		Run(func(mock.Arguments) { polls.Add(1) }).
		Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	require.Eventually(t, func() bool { return polls.Load() >= 2 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}
