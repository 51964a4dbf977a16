package models

import (
	"time"
)

// UserBalance tracks a wallet's off-chain balance in USDT cents (two decimal
// places; on-chain amounts are 6-decimal fixed point and rounded down on
// conversion). LatestBlockNumber is monotonically non-decreasing: a balance
// mutation is accepted only when the incoming block number is strictly newer.
type UserBalance struct {
	PublicAddress     string    `json:"public_address"`
	Balance           int64     `json:"balance"` // USDT cents
	PrevBlockNumber   uint64    `json:"prev_block_number"`
	LatestBlockNumber uint64    `json:"latest_block_number"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Prediction is a "lay" placed against a match. HashIdentifier is
// sha256(index, match_id, contract_address) and is the sole idempotency guard
// against duplicate creation on event replay.
type Prediction struct {
	ID                 int64     `json:"id"`
	HashIdentifier     string    `json:"hash_identifier"`
	Index              uint64    `json:"index"`
	LayerAddress       string    `json:"layer_address"`
	MatchID            uint64    `json:"match_id"`
	ContractAddress    string    `json:"contract_address"`
	Result             uint64    `json:"result"`
	Amount             int64     `json:"amount"` // USDT cents
	TotalOpponentWager int64     `json:"total_opponent_wager"`
	FMatched           bool      `json:"f_matched"`
	PMatched           bool      `json:"p_matched"`
	Settled            bool      `json:"settled"`
	ForSale            bool      `json:"for_sale"`
	Sold               bool      `json:"sold"`
	Price              int64     `json:"price"` // USDT cents, 0 until a sale is initiated
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Opponent is a "back" registered against an existing prediction. The tuple
// (match_id, prediction_index, opponent_address, block_number) is the dedup
// key: one address cannot register two backs against the same prediction
// within the same block.
type Opponent struct {
	ID              int64     `json:"id"`
	PredictionID    int64     `json:"prediction_id"`
	MatchID         uint64    `json:"match_id"`
	PredictionIndex uint64    `json:"prediction_index"`
	OpponentAddress string    `json:"opponent_address"`
	Wager           int64     `json:"wager"` // USDT cents
	Result          uint64    `json:"result"`
	BlockNumber     uint64    `json:"block_number"`
	CreatedAt       time.Time `json:"created_at"`
}

// Game mirrors the on-chain match registry. Created on GameRegistered,
// flipped to resolved on GameResolved; no other mutation path.
type Game struct {
	ID        int64     `json:"id"`
	MatchID   uint64    `json:"match_id"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription is a durable record of an upstream log subscription, stored so
// that a reconnect can replay the exact same filter set.
type Subscription struct {
	ID        string   `json:"id"`
	EventType string   `json:"event_type"` // "contract-events" for the live pipeline
	Addresses []string `json:"addresses"`
	Topics    []string `json:"topics"`
}
