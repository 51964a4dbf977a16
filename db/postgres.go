package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/FezaSmartContracts/betmimi/models"
)

// PostgresDB implements the Database interface using PostgreSQL
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	postgresDB := &PostgresDB{db: db}

	// Initialize the database schema
	if err := postgresDB.InitDB(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	return postgresDB, nil
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive
func (p *PostgresDB) Ping() error {
	return p.db.Ping()
}

// Exec executes a query without returning any rows
func (p *PostgresDB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

// QueryRow executes a query that is expected to return at most one row
func (p *PostgresDB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Query executes a query that returns rows
func (p *PostgresDB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

// CreateUserBalance inserts a zeroed balance row for a wallet if none exists.
func (p *PostgresDB) CreateUserBalance(ctx context.Context, publicAddress string) error {
	query := `
		INSERT INTO user_balances (public_address, balance, prev_block_number, latest_block_number, created_at, updated_at)
		VALUES ($1, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (public_address) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query, publicAddress)
	if err != nil {
		return fmt.Errorf("failed to create user balance: %v", err)
	}
	return nil
}

// GetUserBalance retrieves the balance row for a wallet
func (p *PostgresDB) GetUserBalance(ctx context.Context, publicAddress string) (*models.UserBalance, error) {
	query := `
		SELECT public_address, balance, prev_block_number, latest_block_number, created_at, updated_at
		FROM user_balances
		WHERE public_address = $1
	`

	var balance models.UserBalance
	err := p.db.QueryRowContext(ctx, query, publicAddress).Scan(
		&balance.PublicAddress,
		&balance.Balance,
		&balance.PrevBlockNumber,
		&balance.LatestBlockNumber,
		&balance.CreatedAt,
		&balance.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user balance: %v", err)
	}
	return &balance, nil
}

// ApplyBalanceDelta mutates a wallet balance behind the monotonic block
// guard: the update applies only when blockNumber is strictly newer than the
// stored latest_block_number, which rejects replays of already-applied
// deposits and withdrawals. Returns the new balance in cents, or
// ErrStaleBlock when the guard rejected the mutation.
func (p *PostgresDB) ApplyBalanceDelta(ctx context.Context, publicAddress string, deltaCents int64, blockNumber uint64) (int64, error) {
	query := `
		UPDATE user_balances
		SET balance = balance + $2,
			prev_block_number = latest_block_number,
			latest_block_number = $3,
			updated_at = NOW()
		WHERE public_address = $1 AND latest_block_number < $3
		RETURNING balance
	`

	var newBalance int64
	err := p.db.QueryRowContext(ctx, query, publicAddress, deltaCents, blockNumber).Scan(&newBalance)
	if err == sql.ErrNoRows {
		return 0, ErrStaleBlock
	}
	if err != nil {
		return 0, fmt.Errorf("failed to apply balance delta: %v", err)
	}
	return newBalance, nil
}

// CreatePrediction inserts a prediction, ignoring the insert when a row with
// the same hash_identifier already exists. Returns whether a row was created.
func (p *PostgresDB) CreatePrediction(ctx context.Context, prediction *models.Prediction) (bool, error) {
	query := `
		INSERT INTO predictions (
			hash_identifier, index, layer_address, match_id, contract_address,
			result, amount, total_opponent_wager, f_matched, p_matched,
			settled, for_sale, sold, price, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE, FALSE, FALSE, FALSE, FALSE, 0, NOW(), NOW())
		ON CONFLICT (hash_identifier) DO NOTHING
	`

	result, err := p.db.ExecContext(ctx, query,
		prediction.HashIdentifier,
		prediction.Index,
		prediction.LayerAddress,
		prediction.MatchID,
		prediction.ContractAddress,
		prediction.Result,
		prediction.Amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create prediction: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %v", err)
	}
	return rows > 0, nil
}

const predictionColumns = `
	id, hash_identifier, index, layer_address, match_id, contract_address,
	result, amount, total_opponent_wager, f_matched, p_matched,
	settled, for_sale, sold, price, created_at, updated_at
`

func scanPrediction(row *sql.Row) (*models.Prediction, error) {
	var prediction models.Prediction
	err := row.Scan(
		&prediction.ID,
		&prediction.HashIdentifier,
		&prediction.Index,
		&prediction.LayerAddress,
		&prediction.MatchID,
		&prediction.ContractAddress,
		&prediction.Result,
		&prediction.Amount,
		&prediction.TotalOpponentWager,
		&prediction.FMatched,
		&prediction.PMatched,
		&prediction.Settled,
		&prediction.ForSale,
		&prediction.Sold,
		&prediction.Price,
		&prediction.CreatedAt,
		&prediction.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %v", err)
	}
	return &prediction, nil
}

// GetPrediction retrieves a prediction by its natural key
func (p *PostgresDB) GetPrediction(ctx context.Context, index, matchID uint64, contractAddress string) (*models.Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE index = $1 AND match_id = $2 AND contract_address = $3
	`

	return scanPrediction(p.db.QueryRowContext(ctx, query, index, matchID, contractAddress))
}

// GetPredictionByHash retrieves a prediction by its hash identifier
func (p *PostgresDB) GetPredictionByHash(ctx context.Context, hashIdentifier string) (*models.Prediction, error) {
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE hash_identifier = $1
	`

	return scanPrediction(p.db.QueryRowContext(ctx, query, hashIdentifier))
}

// updatePrediction runs a conditional update keyed on the prediction's
// natural key; zero affected rows means the target does not exist.
func (p *PostgresDB) updatePrediction(ctx context.Context, query string, args ...interface{}) error {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update prediction: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %v", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPredictionForSale flags a prediction as listed at the given price
func (p *PostgresDB) MarkPredictionForSale(ctx context.Context, index, matchID uint64, contractAddress string, priceCents int64) error {
	query := `
		UPDATE predictions
		SET for_sale = TRUE,
			price = $4,
			updated_at = NOW()
		WHERE index = $1 AND match_id = $2 AND contract_address = $3
	`

	return p.updatePrediction(ctx, query, index, matchID, contractAddress, priceCents)
}

// UpdatePredictionPrice changes the listing price of a prediction
func (p *PostgresDB) UpdatePredictionPrice(ctx context.Context, index, matchID uint64, contractAddress string, priceCents int64) error {
	query := `
		UPDATE predictions
		SET price = $4,
			updated_at = NOW()
		WHERE index = $1 AND match_id = $2 AND contract_address = $3
	`

	return p.updatePrediction(ctx, query, index, matchID, contractAddress, priceCents)
}

// MarkPredictionSold transfers a sold prediction to its buyer
func (p *PostgresDB) MarkPredictionSold(ctx context.Context, index, matchID uint64, contractAddress, buyer string) error {
	query := `
		UPDATE predictions
		SET sold = TRUE,
			for_sale = FALSE,
			layer_address = $4,
			updated_at = NOW()
		WHERE index = $1 AND match_id = $2 AND contract_address = $3
	`

	return p.updatePrediction(ctx, query, index, matchID, contractAddress, buyer)
}

// SettlePrediction marks a prediction as settled
func (p *PostgresDB) SettlePrediction(ctx context.Context, index, matchID uint64, contractAddress string) error {
	query := `
		UPDATE predictions
		SET settled = TRUE,
			updated_at = NOW()
		WHERE index = $1 AND match_id = $2 AND contract_address = $3
	`

	return p.updatePrediction(ctx, query, index, matchID, contractAddress)
}

// HasOpponent reports whether a back with the given dedup key already exists
func (p *PostgresDB) HasOpponent(ctx context.Context, matchID, predictionIndex uint64, opponentAddress string, blockNumber uint64) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM opponents
		WHERE match_id = $1 AND prediction_index = $2 AND opponent_address = $3 AND block_number = $4
	`

	var count int
	err := p.db.QueryRowContext(ctx, query, matchID, predictionIndex, opponentAddress, blockNumber).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check opponent: %v", err)
	}
	return count > 0, nil
}

// CreateOpponent inserts a new opponent row
func (p *PostgresDB) CreateOpponent(ctx context.Context, opponent *models.Opponent) error {
	query := `
		INSERT INTO opponents (
			prediction_id, match_id, prediction_index, opponent_address,
			wager, result, block_number, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (match_id, prediction_index, opponent_address, block_number) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query,
		opponent.PredictionID,
		opponent.MatchID,
		opponent.PredictionIndex,
		opponent.OpponentAddress,
		opponent.Wager,
		opponent.Result,
		opponent.BlockNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to create opponent: %v", err)
	}
	return nil
}

// AddOpponentWager atomically increments a prediction's matched wager total
// and flips f_matched once the total reaches the prediction amount. The
// increment and the flag flip happen in one statement so concurrent backs
// cannot race a read-then-write.
func (p *PostgresDB) AddOpponentWager(ctx context.Context, index, matchID uint64, contractAddress string, wagerCents int64) error {
	query := `
		UPDATE predictions
		SET total_opponent_wager = total_opponent_wager + $4,
			p_matched = TRUE,
			f_matched = CASE WHEN total_opponent_wager + $4 >= amount THEN TRUE ELSE f_matched END,
			updated_at = NOW()
		WHERE index = $1 AND match_id = $2 AND contract_address = $3
	`

	return p.updatePrediction(ctx, query, index, matchID, contractAddress, wagerCents)
}

// UpsertGame registers a match if it is not already known. Returns whether a
// row was created.
func (p *PostgresDB) UpsertGame(ctx context.Context, matchID uint64) (bool, error) {
	query := `
		INSERT INTO games (match_id, resolved, created_at, updated_at)
		VALUES ($1, FALSE, NOW(), NOW())
		ON CONFLICT (match_id) DO NOTHING
	`

	result, err := p.db.ExecContext(ctx, query, matchID)
	if err != nil {
		return false, fmt.Errorf("failed to upsert game: %v", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %v", err)
	}
	return rows > 0, nil
}

// ResolveGame marks a match as resolved, creating the row if the
// GameRegistered event was never observed.
func (p *PostgresDB) ResolveGame(ctx context.Context, matchID uint64) error {
	query := `
		INSERT INTO games (match_id, resolved, created_at, updated_at)
		VALUES ($1, TRUE, NOW(), NOW())
		ON CONFLICT (match_id) DO UPDATE
		SET resolved = TRUE,
			updated_at = NOW()
	`

	_, err := p.db.ExecContext(ctx, query, matchID)
	if err != nil {
		return fmt.Errorf("failed to resolve game: %v", err)
	}
	return nil
}

// GetGame retrieves a game by match id
func (p *PostgresDB) GetGame(ctx context.Context, matchID uint64) (*models.Game, error) {
	query := `
		SELECT id, match_id, resolved, created_at, updated_at
		FROM games
		WHERE match_id = $1
	`

	var game models.Game
	err := p.db.QueryRowContext(ctx, query, matchID).Scan(
		&game.ID,
		&game.MatchID,
		&game.Resolved,
		&game.CreatedAt,
		&game.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %v", err)
	}
	return &game, nil
}

// GetAdminEmails lists the notification recipients for administrative alerts
func (p *PostgresDB) GetAdminEmails(ctx context.Context) ([]string, error) {
	query := `
		SELECT email
		FROM admins
		ORDER BY email
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %v", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan admin email: %v", err)
		}
		emails = append(emails, email)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admins: %v", err)
	}
	return emails, nil
}

// InitDB initializes the database schema
func (p *PostgresDB) InitDB(ctx context.Context) error {
	schema := `
		-- Per-wallet balances with the monotonic block guard columns
		CREATE TABLE IF NOT EXISTS user_balances (
			public_address VARCHAR(42) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			prev_block_number BIGINT NOT NULL DEFAULT 0,
			latest_block_number BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Predictions, deduplicated by hash_identifier
		CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			hash_identifier VARCHAR(64) NOT NULL UNIQUE,
			index BIGINT NOT NULL,
			layer_address VARCHAR(42) NOT NULL,
			match_id BIGINT NOT NULL,
			contract_address VARCHAR(42) NOT NULL,
			result BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			total_opponent_wager BIGINT NOT NULL DEFAULT 0,
			f_matched BOOLEAN NOT NULL DEFAULT FALSE,
			p_matched BOOLEAN NOT NULL DEFAULT FALSE,
			settled BOOLEAN NOT NULL DEFAULT FALSE,
			for_sale BOOLEAN NOT NULL DEFAULT FALSE,
			sold BOOLEAN NOT NULL DEFAULT FALSE,
			price BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Opponents (backs), deduplicated per prediction per block
		CREATE TABLE IF NOT EXISTS opponents (
			id BIGSERIAL PRIMARY KEY,
			prediction_id BIGINT NOT NULL REFERENCES predictions(id),
			match_id BIGINT NOT NULL,
			prediction_index BIGINT NOT NULL,
			opponent_address VARCHAR(42) NOT NULL,
			wager BIGINT NOT NULL,
			result BIGINT NOT NULL,
			block_number BIGINT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (match_id, prediction_index, opponent_address, block_number)
		);

		-- On-chain match registry
		CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			match_id BIGINT NOT NULL UNIQUE,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Administrative alert recipients
		CREATE TABLE IF NOT EXISTS admins (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			public_address VARCHAR(42),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Create indexes
		CREATE INDEX IF NOT EXISTS idx_predictions_key ON predictions(index, match_id, contract_address);
		CREATE INDEX IF NOT EXISTS idx_predictions_layer ON predictions(layer_address);
		CREATE INDEX IF NOT EXISTS idx_opponents_prediction_id ON opponents(prediction_id);
		CREATE INDEX IF NOT EXISTS idx_opponents_address ON opponents(opponent_address);
	`

	// Execute schema
	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize database schema: %v", err)
	}

	return nil
}
