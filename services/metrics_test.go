package services

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/queue"
)

func TestMetricsServiceNilComponents(t *testing.T) {
	m := NewMetricsService(nil, nil, nil, zerolog.Nop())

	// Must not panic when no components are wired
	m.UpdateMetrics(context.Background())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.GetHandler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "betmimi_ingestor_up")
}

func TestMetricsServiceQueueDepth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	events := queue.New(rdb, queue.EventsQueue, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, events.Push(ctx, &models.LogEnvelope{
			ContractAddress: "0x1111111111111111111111111111111111111111",
			BlockNumber:     uint64(100 + i),
		}))
	}

	// Move one envelope in flight so both depth gauges are non-zero
	delivery, err := events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	m := NewMetricsService(nil, nil, events, zerolog.Nop())
	m.UpdateMetrics(ctx)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.GetHandler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "betmimi_queue_depth 2")
	assert.Contains(t, body, "betmimi_queue_inflight_depth 1")
}
