package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FezaSmartContracts/betmimi/config"
	"github.com/FezaSmartContracts/betmimi/db"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/mailbox"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/utils"
)

const (
	testContract = "0x1111111111111111111111111111111111111111"
	testUser     = "0x00000000000000000000000000000000000000aa"
	testBacker   = "0x00000000000000000000000000000000000000bb"
)

func newTestHandlers(t *testing.T, mockDB *db.MockDB, mailboxManager *mailbox.Manager) *EventHandlers {
	handlers, err := NewEventHandlers(mockDB, mailboxManager, config.USDTv1EventsABI, logging.NewTesting(t))
	require.NoError(t, err)
	// Short backoff keeps lost-race tests fast
	handlers.retry = RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}
	return handlers
}

func topicUint(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func topicAddr(address string) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32))
}

// onChain converts USDT cents to the raw 6-decimal on-chain representation
func onChain(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(10_000))
}

func (h *EventHandlers) packData(t *testing.T, eventName string, args ...interface{}) []byte {
	data, err := h.abi.Events[eventName].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}

func (h *EventHandlers) sig(eventName string) common.Hash {
	return h.abi.Events[eventName].ID
}

func TestHandleDeposited(t *testing.T) {
	t.Run("credits balance", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("CreateUserBalance", mock.Anything, testUser).Return(nil)
		mockDB.On("ApplyBalanceDelta", mock.Anything, testUser, int64(2500), uint64(120)).
			Return(int64(2500), nil)

		outcome, err := handlers.HandleDeposited(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics:          []common.Hash{handlers.sig(config.DepositedEvent), topicAddr(testUser), common.BigToHash(onChain(2500))},
			BlockNumber:     120,
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)
		mockDB.AssertExpectations(t)
	})

	t.Run("skips replayed block", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("CreateUserBalance", mock.Anything, testUser).Return(nil)
		mockDB.On("ApplyBalanceDelta", mock.Anything, testUser, int64(2500), uint64(120)).
			Return(int64(0), db.ErrStaleBlock)
		mockDB.On("GetUserBalance", mock.Anything, testUser).
			Return(&models.UserBalance{PublicAddress: testUser, Balance: 2500, LatestBlockNumber: 150}, nil)

		outcome, err := handlers.HandleDeposited(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics:          []common.Hash{handlers.sig(config.DepositedEvent), topicAddr(testUser), common.BigToHash(onChain(2500))},
			BlockNumber:     120,
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAlreadyApplied, outcome)
		mockDB.AssertExpectations(t)
	})

	t.Run("retries lost race", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("CreateUserBalance", mock.Anything, testUser).Return(nil)
		// First attempt fails the guard while the stored block is still
		// older; the retry succeeds.
		mockDB.On("ApplyBalanceDelta", mock.Anything, testUser, int64(2500), uint64(120)).
			Return(int64(0), db.ErrStaleBlock).Once()
		mockDB.On("GetUserBalance", mock.Anything, testUser).
			Return(&models.UserBalance{PublicAddress: testUser, LatestBlockNumber: 100}, nil).Once()
		mockDB.On("ApplyBalanceDelta", mock.Anything, testUser, int64(2500), uint64(120)).
			Return(int64(2500), nil).Once()

		outcome, err := handlers.HandleDeposited(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics:          []common.Hash{handlers.sig(config.DepositedEvent), topicAddr(testUser), common.BigToHash(onChain(2500))},
			BlockNumber:     120,
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)
		mockDB.AssertExpectations(t)
	})

	t.Run("rejects malformed topics", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		outcome, err := handlers.HandleDeposited(context.Background(), &models.LogEnvelope{
			Topics: []common.Hash{handlers.sig(config.DepositedEvent)},
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeRejected, outcome)
		mockDB.AssertNotCalled(t, "ApplyBalanceDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("queues deposit notification", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		manager := mailbox.NewManager(rdb, nil, logging.NewTesting(t))

		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, manager)

		mockDB.On("CreateUserBalance", mock.Anything, testUser).Return(nil)
		mockDB.On("ApplyBalanceDelta", mock.Anything, testUser, int64(2500), uint64(120)).
			Return(int64(2500), nil)
		mockDB.On("GetAdminEmails", mock.Anything).Return([]string{"ops@betmimi.io"}, nil)

		outcome, err := handlers.HandleDeposited(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics:          []common.Hash{handlers.sig(config.DepositedEvent), topicAddr(testUser), common.BigToHash(onChain(2500))},
			BlockNumber:     120,
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)

		n, err := rdb.LLen(context.Background(), mailbox.MailsQueue).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestHandleClaimedDebitsBalance(t *testing.T) {
	mockDB := new(db.MockDB)
	handlers := newTestHandlers(t, mockDB, nil)

	mockDB.On("CreateUserBalance", mock.Anything, testUser).Return(nil)
	mockDB.On("ApplyBalanceDelta", mock.Anything, testUser, int64(-2500), uint64(121)).
		Return(int64(0), nil)

	outcome, err := handlers.HandleClaimed(context.Background(), &models.LogEnvelope{
		ContractAddress: testContract,
		Topics:          []common.Hash{handlers.sig(config.ClaimedEvent), topicAddr(testUser), common.BigToHash(onChain(2500))},
		BlockNumber:     121,
	})

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	mockDB.AssertExpectations(t)
}

func TestHandlePredicted(t *testing.T) {
	t.Run("records prediction", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		wantHash := utils.PredictionHash(7, 42, testContract)
		mockDB.On("CreatePrediction", mock.Anything, mock.MatchedBy(func(p *models.Prediction) bool {
			return p.HashIdentifier == wantHash &&
				p.Index == 7 && p.MatchID == 42 &&
				p.LayerAddress == testUser &&
				p.ContractAddress == testContract &&
				p.Amount == 10000 && p.Result == 1
		})).Return(true, nil)

		outcome, err := handlers.HandlePredicted(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics: []common.Hash{
				handlers.sig(config.PredictedEvent),
				topicUint(7),
				topicAddr(testUser),
				topicUint(42),
			},
			Data:        handlers.packData(t, config.PredictedEvent, onChain(10000), big.NewInt(1)),
			BlockNumber: 130,
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)
		mockDB.AssertExpectations(t)
	})

	t.Run("skips duplicate", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("CreatePrediction", mock.Anything, mock.Anything).Return(false, nil)

		outcome, err := handlers.HandlePredicted(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics: []common.Hash{
				handlers.sig(config.PredictedEvent),
				topicUint(7),
				topicAddr(testUser),
				topicUint(42),
			},
			Data:        handlers.packData(t, config.PredictedEvent, onChain(10000), big.NewInt(1)),
			BlockNumber: 130,
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAlreadyApplied, outcome)
	})

	t.Run("rejects undecodable data", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		outcome, err := handlers.HandlePredicted(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics: []common.Hash{
				handlers.sig(config.PredictedEvent),
				topicUint(7),
				topicAddr(testUser),
				topicUint(42),
			},
			Data: []byte{0x01, 0x02},
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeRejected, outcome)
		mockDB.AssertNotCalled(t, "CreatePrediction", mock.Anything, mock.Anything)
	})
}

func TestHandleBacked(t *testing.T) {
	backedEnvelope := func(handlers *EventHandlers, t *testing.T) *models.LogEnvelope {
		return &models.LogEnvelope{
			ContractAddress: testContract,
			Topics: []common.Hash{
				handlers.sig(config.BackedEvent),
				topicUint(7),
				topicAddr(testBacker),
				topicUint(42),
			},
			Data:        handlers.packData(t, config.BackedEvent, onChain(5000), big.NewInt(2)),
			BlockNumber: 140,
		}
	}

	t.Run("records back and rolls up wager", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("HasOpponent", mock.Anything, uint64(42), uint64(7), testBacker, uint64(140)).
			Return(false, nil)
		mockDB.On("GetPrediction", mock.Anything, uint64(7), uint64(42), testContract).
			Return(&models.Prediction{ID: 9, Index: 7, MatchID: 42}, nil)
		mockDB.On("CreateOpponent", mock.Anything, mock.MatchedBy(func(o *models.Opponent) bool {
			return o.PredictionID == 9 && o.OpponentAddress == testBacker &&
				o.Wager == 5000 && o.Result == 2 && o.BlockNumber == 140
		})).Return(nil)
		mockDB.On("AddOpponentWager", mock.Anything, uint64(7), uint64(42), testContract, int64(5000)).
			Return(nil)

		outcome, err := handlers.HandleBacked(context.Background(), backedEnvelope(handlers, t))

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)
		mockDB.AssertExpectations(t)
	})

	t.Run("skips duplicate back", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("HasOpponent", mock.Anything, uint64(42), uint64(7), testBacker, uint64(140)).
			Return(true, nil)

		outcome, err := handlers.HandleBacked(context.Background(), backedEnvelope(handlers, t))

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAlreadyApplied, outcome)
		mockDB.AssertNotCalled(t, "CreateOpponent", mock.Anything, mock.Anything)
		mockDB.AssertNotCalled(t, "AddOpponentWager", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("fails when prediction is missing", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("HasOpponent", mock.Anything, uint64(42), uint64(7), testBacker, uint64(140)).
			Return(false, nil)
		mockDB.On("GetPrediction", mock.Anything, uint64(7), uint64(42), testContract).
			Return(nil, db.ErrNotFound)

		_, err := handlers.HandleBacked(context.Background(), backedEnvelope(handlers, t))
		assert.Error(t, err)
	})
}

func TestHandleBetSellInitiated(t *testing.T) {
	mockDB := new(db.MockDB)
	handlers := newTestHandlers(t, mockDB, nil)

	mockDB.On("MarkPredictionForSale", mock.Anything, uint64(7), uint64(42), testContract, int64(7500)).
		Return(nil)

	outcome, err := handlers.HandleBetSellInitiated(context.Background(), &models.LogEnvelope{
		ContractAddress: testContract,
		Topics: []common.Hash{
			handlers.sig(config.BetSellInitiatedEvent),
			topicUint(7),
			topicUint(42),
			common.BigToHash(onChain(7500)),
		},
		BlockNumber: 150,
	})

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	mockDB.AssertExpectations(t)
}

func TestHandleBetSold(t *testing.T) {
	mockDB := new(db.MockDB)
	handlers := newTestHandlers(t, mockDB, nil)

	mockDB.On("MarkPredictionSold", mock.Anything, uint64(7), uint64(42), testContract, testBacker).
		Return(nil)

	outcome, err := handlers.HandleBetSold(context.Background(), &models.LogEnvelope{
		ContractAddress: testContract,
		Topics: []common.Hash{
			handlers.sig(config.BetSoldEvent),
			topicUint(7),
			topicUint(42),
			topicAddr(testBacker),
		},
		BlockNumber: 151,
	})

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)
	mockDB.AssertExpectations(t)
}

func TestHandleGameRegistered(t *testing.T) {
	t.Run("registers new game", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("UpsertGame", mock.Anything, uint64(42)).Return(true, nil)

		outcome, err := handlers.HandleGameRegistered(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics:          []common.Hash{handlers.sig(config.GameRegisteredEvent), topicUint(42)},
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeApplied, outcome)
	})

	t.Run("skips known game", func(t *testing.T) {
		mockDB := new(db.MockDB)
		handlers := newTestHandlers(t, mockDB, nil)

		mockDB.On("UpsertGame", mock.Anything, uint64(42)).Return(false, nil)

		outcome, err := handlers.HandleGameRegistered(context.Background(), &models.LogEnvelope{
			ContractAddress: testContract,
			Topics:          []common.Hash{handlers.sig(config.GameRegisteredEvent), topicUint(42)},
		})

		require.NoError(t, err)
		assert.Equal(t, models.OutcomeAlreadyApplied, outcome)
	})
}

func TestHandleRevenueWithdrawnQueuesAlert(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	manager := mailbox.NewManager(rdb, nil, logging.NewTesting(t))

	mockDB := new(db.MockDB)
	handlers := newTestHandlers(t, mockDB, manager)

	mockDB.On("GetAdminEmails", mock.Anything).Return([]string{"ops@betmimi.io"}, nil)

	outcome, err := handlers.HandleRevenueWithdrawn(context.Background(), &models.LogEnvelope{
		ContractAddress: testContract,
		Topics:          []common.Hash{handlers.sig(config.RevenueWithdrawnEvent), topicAddr(testUser)},
		Data:            handlers.packData(t, config.RevenueWithdrawnEvent, onChain(150000)),
	})

	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, outcome)

	n, err := rdb.LLen(context.Background(), mailbox.AlertsQueue).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandlerTransientDBError(t *testing.T) {
	mockDB := new(db.MockDB)
	handlers := newTestHandlers(t, mockDB, nil)

	mockDB.On("UpsertGame", mock.Anything, uint64(42)).Return(false, errors.New("connection refused"))

	_, err := handlers.HandleGameRegistered(context.Background(), &models.LogEnvelope{
		ContractAddress: testContract,
		Topics:          []common.Hash{handlers.sig(config.GameRegisteredEvent), topicUint(42)},
	})
	assert.Error(t, err)
}
