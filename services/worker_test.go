package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FezaSmartContracts/betmimi/config"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/queue"
)

func newWorkerFixture(t *testing.T, fn HandlerFunc) (*WorkerPool, *queue.Queue, common.Hash) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	events := queue.New(rdb, queue.EventsQueue, logging.NewTesting(t))

	dispatcher, err := NewDispatcher(config.USDTv1EventsABI, logging.NewTesting(t))
	require.NoError(t, err)
	require.NoError(t, dispatcher.Register(config.GameRegisteredEvent, fn))

	topic, err := dispatcher.TopicFor(config.GameRegisteredEvent)
	require.NoError(t, err)

	return NewWorkerPool(events, dispatcher, 2, logging.NewTesting(t)), events, topic
}

func TestWorkerAcksTerminalOutcomes(t *testing.T) {
	pool, events, topic := newWorkerFixture(t, func(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
		return models.OutcomeApplied, nil
	})
	ctx := context.Background()

	require.NoError(t, events.Push(ctx, &models.LogEnvelope{
		Topics:      []common.Hash{topic, topicUint(42)},
		BlockNumber: 100,
	}))

	delivery, err := events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	pool.handle(ctx, pool.logger, delivery)

	inflight, err := events.InflightLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)
	assert.Equal(t, int64(1), pool.GetMetrics().Processed)
}

func TestWorkerLeavesFailedEnvelopeInflight(t *testing.T) {
	pool, events, topic := newWorkerFixture(t, func(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
		return models.OutcomeRejected, errors.New("db unavailable")
	})
	ctx := context.Background()

	require.NoError(t, events.Push(ctx, &models.LogEnvelope{
		Topics:      []common.Hash{topic, topicUint(42)},
		BlockNumber: 100,
	}))

	delivery, err := events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	pool.handle(ctx, pool.logger, delivery)

	// The envelope stays in-flight for inspection and manual requeue
	inflight, err := events.InflightLen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inflight)
	assert.Equal(t, int64(1), pool.GetMetrics().Failed)
}

func TestWorkerCountsReplays(t *testing.T) {
	pool, events, topic := newWorkerFixture(t, func(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
		return models.OutcomeAlreadyApplied, nil
	})
	ctx := context.Background()

	require.NoError(t, events.Push(ctx, &models.LogEnvelope{
		Topics:      []common.Hash{topic, topicUint(42)},
		BlockNumber: 100,
	}))

	delivery, err := events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	pool.handle(ctx, pool.logger, delivery)

	assert.Equal(t, int64(1), pool.GetMetrics().Replayed)

	inflight, err := events.InflightLen(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)
}

func TestWorkerPoolProcessesQueue(t *testing.T) {
	handled := make(chan uint64, 3)
	pool, events, topic := newWorkerFixture(t, func(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
		handled <- envelope.BlockNumber
		return models.OutcomeApplied, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, block := range []uint64{100, 101, 102} {
		require.NoError(t, events.Push(ctx, &models.LogEnvelope{
			Topics:      []common.Hash{topic, topicUint(42)},
			BlockNumber: block,
		}))
	}

	pool.Start(ctx)
	defer pool.Shutdown()

	seen := make(map[uint64]bool)
	for i := 0; i < 3; i++ {
		select {
		case block := <-handled:
			seen[block] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for workers")
		}
	}
	assert.Len(t, seen, 3)

	require.Eventually(t, func() bool {
		inflight, err := events.InflightLen(context.Background())
		return err == nil && inflight == 0
	}, 5*time.Second, 50*time.Millisecond)
}
