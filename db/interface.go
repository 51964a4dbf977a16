package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/FezaSmartContracts/betmimi/models"
)

var (
	// ErrNotFound is returned when an operation targets a row that does not
	// exist. For conditional updates on predictions this is a genuine error:
	// the prediction must have been created by an earlier event.
	ErrNotFound = errors.New("not found")

	// ErrStaleBlock is returned when a balance mutation carries a block number
	// that is not strictly newer than the stored latest_block_number. It
	// covers both replays and lost races; callers distinguish the two by
	// re-reading the stored block number.
	ErrStaleBlock = errors.New("stale block number")
)

// Database interface defines the methods that a database implementation must provide
type Database interface {
	// Database connection management
	Close() error
	Ping() error
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// Balance operations
	CreateUserBalance(ctx context.Context, publicAddress string) error
	GetUserBalance(ctx context.Context, publicAddress string) (*models.UserBalance, error)
	ApplyBalanceDelta(ctx context.Context, publicAddress string, deltaCents int64, blockNumber uint64) (int64, error)

	// Prediction operations
	CreatePrediction(ctx context.Context, prediction *models.Prediction) (bool, error)
	GetPrediction(ctx context.Context, index, matchID uint64, contractAddress string) (*models.Prediction, error)
	GetPredictionByHash(ctx context.Context, hashIdentifier string) (*models.Prediction, error)
	MarkPredictionForSale(ctx context.Context, index, matchID uint64, contractAddress string, priceCents int64) error
	UpdatePredictionPrice(ctx context.Context, index, matchID uint64, contractAddress string, priceCents int64) error
	MarkPredictionSold(ctx context.Context, index, matchID uint64, contractAddress, buyer string) error
	SettlePrediction(ctx context.Context, index, matchID uint64, contractAddress string) error

	// Opponent operations
	HasOpponent(ctx context.Context, matchID, predictionIndex uint64, opponentAddress string, blockNumber uint64) (bool, error)
	CreateOpponent(ctx context.Context, opponent *models.Opponent) error
	AddOpponentWager(ctx context.Context, index, matchID uint64, contractAddress string, wagerCents int64) error

	// Game operations
	UpsertGame(ctx context.Context, matchID uint64) (bool, error)
	ResolveGame(ctx context.Context, matchID uint64) error
	GetGame(ctx context.Context, matchID uint64) (*models.Game, error)

	// Notification recipients
	GetAdminEmails(ctx context.Context) ([]string, error)

	// Database initialization
	InitDB(ctx context.Context) error
}
