package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamReader struct {
	mock.Mock
}

func (m *MockStreamReader) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	return redis.NewStatusResult(args.String(0), args.Error(1))
}

func (m *MockStreamReader) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	streams, _ := args.Get(0).([]redis.XStream)
	return redis.NewXStreamSliceCmdResult(streams, args.Error(1))
}

func (m *MockStreamReader) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	return redis.NewIntResult(int64(len(ids)), args.Error(0))
}

func catalogMessage(t *testing.T, id string, payload CatalogPublishedPayload) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":      "outbox-" + id,
		"type":    string(EventTypeCatalogPublished),
		"payload": payload,
	})
	require.NoError(t, err)
	return redis.XMessage{
		ID: id,
		Values: map[string]any{
			"event_type": string(EventTypeCatalogPublished),
			"data":       string(data),
		},
	}
}

func TestConsumer_ReadOnce(t *testing.T) {
	ctx := context.Background()
	stream := "stream:clearance_catalogs"

	t.Run("handles and acknowledges catalog events", func(t *testing.T) {
		client := new(MockStreamReader)
		var got []CatalogPublishedPayload
		consumer := NewConsumer(client, func(_ context.Context, _ string, p CatalogPublishedPayload) error {
			got = append(got, p)
			return nil
		}, slog.Default(), ConsumerConfig{Stream: stream})

		client.On("XReadGroup", ctx, mock.AnythingOfType("*redis.XReadGroupArgs")).Return([]redis.XStream{{
			Stream: stream,
			Messages: []redis.XMessage{
				catalogMessage(t, "1-0", CatalogPublishedPayload{CatalogID: "c1", Source: "rona", Count: 4}),
				catalogMessage(t, "2-0", CatalogPublishedPayload{CatalogID: "c2", Source: "walmart", StoreSlug: "1081-laval"}),
			},
		}}, nil)
		client.On("XAck", ctx, stream, "catalog-consumer-group", []string{"1-0"}).Return(nil)
		client.On("XAck", ctx, stream, "catalog-consumer-group", []string{"2-0"}).Return(nil)

		acked, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, acked)
		require.Len(t, got, 2)
		assert.Equal(t, "rona", got[0].Source)
		assert.Equal(t, 4, got[0].Count)
		assert.Equal(t, "1081-laval", got[1].StoreSlug)
		client.AssertExpectations(t)
	})

	t.Run("other event types are acknowledged unhandled", func(t *testing.T) {
		client := new(MockStreamReader)
		called := false
		consumer := NewConsumer(client, func(context.Context, string, CatalogPublishedPayload) error {
			called = true
			return nil
		}, slog.Default(), ConsumerConfig{Stream: stream})

		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   stream,
			Messages: []redis.XMessage{{ID: "3-0", Values: map[string]any{"event_type": "SOMETHING_ELSE"}}},
		}}, nil)
		client.On("XAck", ctx, stream, "catalog-consumer-group", []string{"3-0"}).Return(nil)

		acked, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, acked)
		assert.False(t, called)
	})

	t.Run("handler error leaves message pending", func(t *testing.T) {
		client := new(MockStreamReader)
		consumer := NewConsumer(client, func(context.Context, string, CatalogPublishedPayload) error {
			return errors.New("downstream unavailable")
		}, slog.Default(), ConsumerConfig{Stream: stream})

		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream:   stream,
			Messages: []redis.XMessage{catalogMessage(t, "4-0", CatalogPublishedPayload{CatalogID: "c4"})},
		}}, nil)

		acked, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
		client.AssertNotCalled(t, "XAck", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed data is not acknowledged", func(t *testing.T) {
		client := new(MockStreamReader)
		consumer := NewConsumer(client, func(context.Context, string, CatalogPublishedPayload) error {
			return nil
		}, slog.Default(), ConsumerConfig{Stream: stream})

		client.On("XReadGroup", ctx, mock.Anything).Return([]redis.XStream{{
			Stream: stream,
			Messages: []redis.XMessage{{ID: "5-0", Values: map[string]any{
				"event_type": string(EventTypeCatalogPublished),
				"data":       "{not json",
			}}},
		}}, nil)

		acked, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
	})

	t.Run("empty read", func(t *testing.T) {
		client := new(MockStreamReader)
		consumer := NewConsumer(client, nil, slog.Default(), ConsumerConfig{Stream: stream})
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, redis.Nil)

		acked, err := consumer.ReadOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, acked)
	})

	t.Run("read error", func(t *testing.T) {
		client := new(MockStreamReader)
		consumer := NewConsumer(client, nil, slog.Default(), ConsumerConfig{Stream: stream})
		client.On("XReadGroup", ctx, mock.Anything).Return(nil, errors.New("connection reset"))

		_, err := consumer.ReadOnce(ctx)
		assert.EqualError(t, err, "connection reset")
	})
}

func TestConsumer_Run(t *testing.T) {
	t.Run("group creation failure", func(t *testing.T) {
		client := new(MockStreamReader)
		consumer := NewConsumer(client, nil, slog.Default(), ConsumerConfig{Stream: "s"})
		client.On("XGroupCreateMkStream", mock.Anything, "s", "catalog-consumer-group", "0").
			Return("", errors.New("NOAUTH Authentication required"))

		err := consumer.Run(context.Background())
		assert.ErrorContains(t, err, "failed to create consumer group")
	})

	t.Run("existing group and cancelled context", func(t *testing.T) {
		client := new(MockStreamReader)
		consumer := NewConsumer(client, nil, slog.Default(), ConsumerConfig{Stream: "s"})
		client.On("XGroupCreateMkStream", mock.Anything, "s", "catalog-consumer-group", "0").
			Return("", errors.New("BUSYGROUP Consumer Group name already exists"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := consumer.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		client.AssertNotCalled(t, "XReadGroup", mock.Anything, mock.Anything)
	})
}
