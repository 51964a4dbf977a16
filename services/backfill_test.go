package services

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/FezaSmartContracts/betmimi/config"
	"github.com/FezaSmartContracts/betmimi/db"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/queue"
)

func TestBackfillFetchRejectsInvertedRange(t *testing.T) {
	fetcher := NewBackfillFetcher("http://localhost:1", nil, zerolog.Nop())

	queued, err := fetcher.Fetch(context.Background(), 200, 100, nil, nil)
	assert.Zero(t, queued)
	assert.ErrorContains(t, err, "invalid range")
}

func TestBackfillFetchFailsOnUnreachableRPC(t *testing.T) {
	fetcher := NewBackfillFetcher("://not-a-url", nil, zerolog.Nop())

	queued, err := fetcher.Fetch(context.Background(), 100, 200, nil, nil)
	assert.Zero(t, queued)
	assert.Error(t, err)
}

// newLogsRPCServer serves eth_getLogs with the given logs, in the response
// shape an Ethereum node produces.
func newLogsRPCServer(t *testing.T, logs []types.Log) *httptest.Server {
	t.Helper()

	results := make([]map[string]interface{}, 0, len(logs))
	for i, vLog := range logs {
		topics := make([]string, 0, len(vLog.Topics))
		for _, topic := range vLog.Topics {
			topics = append(topics, topic.Hex())
		}
		results = append(results, map[string]interface{}{
			"address":          vLog.Address.Hex(),
			"topics":           topics,
			"data":             hexutil.Encode(vLog.Data),
			"blockNumber":      hexutil.EncodeUint64(vLog.BlockNumber),
			"transactionHash":  vLog.TxHash.Hex(),
			"transactionIndex": "0x0",
			"blockHash":        common.HexToHash("0xb10c").Hex(),
			"logIndex":         hexutil.EncodeUint64(uint64(i)),
			"removed":          false,
		})
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      json.RawMessage(gjson.GetBytes(payload, "id").Raw),
			"result":  results,
		})
	}))
}

// A log replayed over backfill and the identical log received live must
// converge to a single database application.
func TestBackfillAndLiveDeliveryConverge(t *testing.T) {
	mockDB := new(db.MockDB)
	handlers := newTestHandlers(t, mockDB, nil)
	logger := logging.NewTesting(t)
	ctx := context.Background()

	vLog := types.Log{
		Address: common.HexToAddress(testContract),
		Topics: []common.Hash{
			handlers.sig(config.PredictedEvent),
			topicUint(7),
			topicAddr(testUser),
			topicUint(42),
		},
		Data:        handlers.packData(t, config.PredictedEvent, onChain(10000), big.NewInt(1)),
		BlockNumber: 130,
		TxHash:      common.HexToHash("0xfeed"),
	}

	srv := newLogsRPCServer(t, []types.Log{vLog})
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	events := queue.New(rdb, queue.EventsQueue, logger)

	// The first insert lands; every replay of the same hash is a duplicate
	mockDB.On("CreatePrediction", mock.Anything, mock.Anything).Return(true, nil).Once()
	mockDB.On("CreatePrediction", mock.Anything, mock.Anything).Return(false, nil)

	fetcher := NewBackfillFetcher(srv.URL, events, logger)
	queued, err := fetcher.Fetch(ctx, 130, 130, []common.Address{vLog.Address}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, queued)

	delivery, err := events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	outcome, err := handlers.HandlePredicted(ctx, delivery.Envelope)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	// The same on-chain log now arrives over the live subscription
	registry := queue.NewRegistry(rdb, logger)
	ingestor := NewLiveIngestor(nil, nil, registry, events, nil, nil, nil, logger)
	ingestor.enqueueLog(ctx, vLog)

	delivery, err = events.PopToInflight(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, delivery)

	outcome, err = handlers.HandlePredicted(ctx, delivery.Envelope)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyApplied, outcome)
	mockDB.AssertExpectations(t)
}
