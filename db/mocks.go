package db

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	"github.com/FezaSmartContracts/betmimi/models"
)

// MockDB is a mock implementation of the Database interface for testing
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDB) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDB) Exec(ctx context.Context, query string, queryArgs ...interface{}) (sql.Result, error) {
	args := m.Called(ctx, query, queryArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(sql.Result), args.Error(1)
}

func (m *MockDB) QueryRow(ctx context.Context, query string, queryArgs ...interface{}) *sql.Row {
	args := m.Called(ctx, query, queryArgs)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*sql.Row)
}

func (m *MockDB) Query(ctx context.Context, query string, queryArgs ...interface{}) (*sql.Rows, error) {
	args := m.Called(ctx, query, queryArgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sql.Rows), args.Error(1)
}

func (m *MockDB) CreateUserBalance(ctx context.Context, publicAddress string) error {
	args := m.Called(ctx, publicAddress)
	return args.Error(0)
}

func (m *MockDB) GetUserBalance(ctx context.Context, publicAddress string) (*models.UserBalance, error) {
	args := m.Called(ctx, publicAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserBalance), args.Error(1)
}

func (m *MockDB) ApplyBalanceDelta(ctx context.Context, publicAddress string, deltaCents int64, blockNumber uint64) (int64, error) {
	args := m.Called(ctx, publicAddress, deltaCents, blockNumber)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDB) CreatePrediction(ctx context.Context, prediction *models.Prediction) (bool, error) {
	args := m.Called(ctx, prediction)
	return args.Bool(0), args.Error(1)
}

func (m *MockDB) GetPrediction(ctx context.Context, index, matchID uint64, contractAddress string) (*models.Prediction, error) {
	args := m.Called(ctx, index, matchID, contractAddress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Prediction), args.Error(1)
}

func (m *MockDB) GetPredictionByHash(ctx context.Context, hashIdentifier string) (*models.Prediction, error) {
	args := m.Called(ctx, hashIdentifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Prediction), args.Error(1)
}

func (m *MockDB) MarkPredictionForSale(ctx context.Context, index, matchID uint64, contractAddress string, priceCents int64) error {
	args := m.Called(ctx, index, matchID, contractAddress, priceCents)
	return args.Error(0)
}

func (m *MockDB) UpdatePredictionPrice(ctx context.Context, index, matchID uint64, contractAddress string, priceCents int64) error {
	args := m.Called(ctx, index, matchID, contractAddress, priceCents)
	return args.Error(0)
}

func (m *MockDB) MarkPredictionSold(ctx context.Context, index, matchID uint64, contractAddress, buyer string) error {
	args := m.Called(ctx, index, matchID, contractAddress, buyer)
	return args.Error(0)
}

func (m *MockDB) SettlePrediction(ctx context.Context, index, matchID uint64, contractAddress string) error {
	args := m.Called(ctx, index, matchID, contractAddress)
	return args.Error(0)
}

func (m *MockDB) HasOpponent(ctx context.Context, matchID, predictionIndex uint64, opponentAddress string, blockNumber uint64) (bool, error) {
	args := m.Called(ctx, matchID, predictionIndex, opponentAddress, blockNumber)
	return args.Bool(0), args.Error(1)
}

func (m *MockDB) CreateOpponent(ctx context.Context, opponent *models.Opponent) error {
	args := m.Called(ctx, opponent)
	return args.Error(0)
}

func (m *MockDB) AddOpponentWager(ctx context.Context, index, matchID uint64, contractAddress string, wagerCents int64) error {
	args := m.Called(ctx, index, matchID, contractAddress, wagerCents)
	return args.Error(0)
}

func (m *MockDB) UpsertGame(ctx context.Context, matchID uint64) (bool, error) {
	args := m.Called(ctx, matchID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDB) ResolveGame(ctx context.Context, matchID uint64) error {
	args := m.Called(ctx, matchID)
	return args.Error(0)
}

func (m *MockDB) GetGame(ctx context.Context, matchID uint64) (*models.Game, error) {
	args := m.Called(ctx, matchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Game), args.Error(1)
}

func (m *MockDB) GetAdminEmails(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDB) InitDB(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
