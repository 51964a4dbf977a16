package handlers

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/body"

	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/queue"
	"github.com/FezaSmartContracts/betmimi/services"
)

type serverFixture struct {
	client *gentleman.Client
	events *queue.Queue
	rdb    *redis.Client
}

func newServerFixture(t *testing.T) *serverFixture {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := logging.NewTesting(t)
	events := queue.New(rdb, queue.EventsQueue, logger)
	registry := queue.NewRegistry(rdb, logger)

	ingestor := services.NewLiveIngestor(nil, nil, registry, events, nil, nil, nil, logger)
	workers := services.NewWorkerPool(events, nil, 2, logger)
	backfill := services.NewBackfillFetcher("http://127.0.0.1:0", events, logger)

	server := NewServer(ingestor, workers, backfill, nil, events, registry, logger)
	ts := httptest.NewServer(server.Router(""))
	t.Cleanup(ts.Close)

	client := gentleman.New()
	client.URL(ts.URL)

	return &serverFixture{client: client, events: events, rdb: rdb}
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newServerFixture(t)

	res, err := fixture.client.Request().Path("/health").Send()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	var payload struct {
		Status string `json:"status"`
	}
	require.NoError(t, res.JSON(&payload))
	assert.Equal(t, "ok", payload.Status)
}

func TestQueueStatusEndpoint(t *testing.T) {
	fixture := newServerFixture(t)
	ctx := context.Background()

	require.NoError(t, fixture.events.Push(ctx, &models.LogEnvelope{BlockNumber: 100}))
	require.NoError(t, fixture.events.Push(ctx, &models.LogEnvelope{BlockNumber: 101}))

	res, err := fixture.client.Request().Path("/api/v1/admin/queue").Send()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	var payload struct {
		Depth           int64    `json:"depth"`
		InflightDepth   int      `json:"inflight_depth"`
		InflightEntries []string `json:"inflight_entries"`
	}
	require.NoError(t, res.JSON(&payload))
	assert.Equal(t, int64(2), payload.Depth)
	assert.Zero(t, payload.InflightDepth)
}

func TestRequeueEndpoint(t *testing.T) {
	fixture := newServerFixture(t)
	ctx := context.Background()

	require.NoError(t, fixture.events.Push(ctx, &models.LogEnvelope{BlockNumber: 100}))
	delivery, err := fixture.events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	res, err := fixture.client.Request().
		Method("POST").
		Path("/api/v1/admin/queue/requeue").
		Use(body.JSON(map[string]string{"entry": delivery.Raw})).
		Send()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	depth, err := fixture.events.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestRequeueUnknownEntry(t *testing.T) {
	fixture := newServerFixture(t)

	res, err := fixture.client.Request().
		Method("POST").
		Path("/api/v1/admin/queue/requeue").
		Use(body.JSON(map[string]string{"entry": "no-such-entry"})).
		Send()
	require.NoError(t, err)
	assert.Equal(t, 404, res.StatusCode)
}

func TestBackfillValidation(t *testing.T) {
	fixture := newServerFixture(t)

	t.Run("rejects bad contract address", func(t *testing.T) {
		res, err := fixture.client.Request().
			Method("POST").
			Path("/api/v1/admin/backfill").
			Use(body.JSON(map[string]interface{}{
				"from_block": 100,
				"to_block":   200,
				"contracts":  []string{"not-an-address"},
			})).
			Send()
		require.NoError(t, err)
		assert.Equal(t, 400, res.StatusCode)
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		res, err := fixture.client.Request().
			Method("POST").
			Path("/api/v1/admin/backfill").
			Use(body.JSON(map[string]interface{}{
				"from_block": 200,
				"to_block":   100,
				"contracts":  []string{"0x1111111111111111111111111111111111111111"},
			})).
			Send()
		require.NoError(t, err)
		assert.Equal(t, 400, res.StatusCode)
	})

	t.Run("rejects missing body", func(t *testing.T) {
		res, err := fixture.client.Request().
			Method("POST").
			Path("/api/v1/admin/backfill").
			Send()
		require.NoError(t, err)
		assert.Equal(t, 400, res.StatusCode)
	})
}

func TestRestartSubscriptionsEndpoint(t *testing.T) {
	fixture := newServerFixture(t)

	res, err := fixture.client.Request().
		Method("POST").
		Path("/api/v1/admin/subscriptions/restart").
		Send()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	var payload struct {
		Restarted bool `json:"restarted"`
	}
	require.NoError(t, res.JSON(&payload))
	assert.True(t, payload.Restarted)
}

func TestListSubscriptionsEndpoint(t *testing.T) {
	fixture := newServerFixture(t)
	logger := logging.NewTesting(t)
	registry := queue.NewRegistry(fixture.rdb, logger)

	_, err := registry.Register(context.Background(), &models.Subscription{
		EventType: "contract-events",
		Addresses: []string{"0x1111111111111111111111111111111111111111"},
	})
	require.NoError(t, err)

	res, err := fixture.client.Request().Path("/api/v1/admin/subscriptions").Send()
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)

	var payload struct {
		Subscriptions []models.Subscription `json:"subscriptions"`
	}
	require.NoError(t, res.JSON(&payload))
	require.Len(t, payload.Subscriptions, 1)
	assert.Equal(t, "contract-events", payload.Subscriptions[0].EventType)
}
