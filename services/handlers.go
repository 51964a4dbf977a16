package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/config"
	"github.com/FezaSmartContracts/betmimi/db"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/mailbox"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/utils"
)

// Topic count requirements per event shape
const (
	balanceEventTopics = 3 // signature + user + amount
	wagerEventTopics   = 4 // signature + index + address + matchId
	saleEventTopics    = 3 // signature + index + matchId (+ optional price topic)
	gameEventTopics    = 2 // signature + matchId
)

// EventHandlers applies decoded contract events to the database and queues
// the notifications they raise. Every handler is idempotent: replaying an
// already-applied envelope reports OutcomeAlreadyApplied and leaves state
// untouched.
type EventHandlers struct {
	db      db.Database
	mailbox *mailbox.Manager
	abi     abi.ABI
	retry   RetryPolicy
	logger  zerolog.Logger
}

// NewEventHandlers creates the handler set over the given dependencies
func NewEventHandlers(database db.Database, mailboxManager *mailbox.Manager, eventsABI string, logger zerolog.Logger) (*EventHandlers, error) {
	parsedABI, err := abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %v", err)
	}

	return &EventHandlers{
		db:      database,
		mailbox: mailboxManager,
		abi:     parsedABI,
		retry:   DefaultRetryPolicy(),
		logger:  logger.With().Str(logging.FieldModule, "handlers").Logger(),
	}, nil
}

// RegisterAll binds every handler to its event on the dispatcher
func (h *EventHandlers) RegisterAll(dispatcher *Dispatcher) error {
	bindings := map[string]HandlerFunc{
		config.DepositedEvent:                  h.HandleDeposited,
		config.ClaimedEvent:                    h.HandleClaimed,
		config.PredictedEvent:                  h.HandlePredicted,
		config.BackedEvent:                     h.HandleBacked,
		config.BetSellInitiatedEvent:           h.HandleBetSellInitiated,
		config.SellingPriceChangedEvent:        h.HandleSellingPriceChanged,
		config.BetSoldEvent:                    h.HandleBetSold,
		config.PredictionSettledEvent:          h.HandlePredictionSettled,
		config.GameRegisteredEvent:             h.HandleGameRegistered,
		config.GameResolvedEvent:               h.HandleGameResolved,
		config.RevenueWithdrawnEvent:           h.HandleRevenueWithdrawn,
		config.ChargeFeesChangedEvent:          h.HandleChargeFeesChanged,
		config.AddressWhitelistedEvent:         h.HandleAddressWhitelisted,
		config.OwnershipTransferInitiatedEvent: h.HandleOwnershipTransferInitiated,
		config.OwnershipTransferCompletedEvent: h.HandleOwnershipTransferCompleted,
	}

	for eventName, fn := range bindings {
		if err := dispatcher.Register(eventName, fn); err != nil {
			return err
		}
	}
	return nil
}

// topicAddress decodes an indexed address topic into its lowercase hex form,
// the canonical representation used for storage keys.
func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.HexToAddress(topic.Hex()).Hex())
}

// contractKey lowers a contract address for use in storage keys
func contractKey(address string) string {
	return strings.ToLower(address)
}

// HandleDeposited credits a deposit to the sender's balance
func (h *EventHandlers) HandleDeposited(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < balanceEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed Deposited event")
		return models.OutcomeRejected, nil
	}

	user := topicAddress(envelope.Topics[1])
	amountCents := utils.ToCents(envelope.Topics[2].Big())

	outcome, err := h.applyBalanceDelta(ctx, user, amountCents, envelope.BlockNumber)
	if err != nil {
		return outcome, err
	}

	if outcome == models.OutcomeApplied {
		h.notifyAdmins(ctx, false, func(recipients []string) *mailbox.Mail {
			return mailbox.OnDeposit(recipients, user, amountCents, envelope.BlockNumber)
		})
	}
	return outcome, nil
}

// HandleClaimed debits a withdrawal from the claimant's balance
func (h *EventHandlers) HandleClaimed(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < balanceEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed Claimed event")
		return models.OutcomeRejected, nil
	}

	user := topicAddress(envelope.Topics[1])
	amountCents := utils.ToCents(envelope.Topics[2].Big())

	outcome, err := h.applyBalanceDelta(ctx, user, -amountCents, envelope.BlockNumber)
	if err != nil {
		return outcome, err
	}

	if outcome == models.OutcomeApplied {
		h.notifyAdmins(ctx, false, func(recipients []string) *mailbox.Mail {
			return mailbox.OnClaim(recipients, user, amountCents, envelope.BlockNumber)
		})
	}
	return outcome, nil
}

// applyBalanceDelta mutates a balance behind the monotonic block guard,
// retrying when the row creation races the guarded update.
func (h *EventHandlers) applyBalanceDelta(ctx context.Context, user string, deltaCents int64, blockNumber uint64) (models.Outcome, error) {
	if err := h.db.CreateUserBalance(ctx, user); err != nil {
		return models.OutcomeRejected, err
	}

	outcome := models.OutcomeRejected
	err := h.retry.Do(ctx, func() (bool, error) {
		newBalance, err := h.db.ApplyBalanceDelta(ctx, user, deltaCents, blockNumber)
		if err == nil {
			outcome = models.OutcomeApplied
			h.logger.Info().
				Str(logging.FieldAddress, user).
				Int64("delta_cents", deltaCents).
				Str("balance", utils.FormatCents(newBalance)).
				Uint64(logging.FieldBlock, blockNumber).
				Msg("Balance updated")
			return true, nil
		}

		if errors.Is(err, db.ErrStaleBlock) {
			balance, getErr := h.db.GetUserBalance(ctx, user)
			if getErr != nil {
				return false, getErr
			}
			if balance.LatestBlockNumber >= blockNumber {
				outcome = models.OutcomeAlreadyApplied
				h.logger.Debug().
					Str(logging.FieldAddress, user).
					Uint64(logging.FieldBlock, blockNumber).
					Uint64("stored_block", balance.LatestBlockNumber).
					Msg("Skipping replayed balance event")
				return true, nil
			}
			// Guard saw a row state that no longer holds; retry
			return false, err
		}

		return false, err
	})
	return outcome, err
}

// HandlePredicted records a newly laid prediction
func (h *EventHandlers) HandlePredicted(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < wagerEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed Predicted event")
		return models.OutcomeRejected, nil
	}

	index := envelope.Topics[1].Big().Uint64()
	layer := topicAddress(envelope.Topics[2])
	matchID := envelope.Topics[3].Big().Uint64()
	contract := contractKey(envelope.ContractAddress)

	unpacked, err := h.abi.Unpack(config.PredictedEvent, envelope.Data)
	if err != nil || len(unpacked) < 2 {
		h.logger.Error().Err(err).
			Str("data", envelope.Data.String()).
			Msg("Rejecting Predicted event with undecodable data")
		return models.OutcomeRejected, nil
	}

	amount, result, err := bigPair(unpacked)
	if err != nil {
		h.logger.Error().Err(err).Msg("Rejecting Predicted event with invalid fields")
		return models.OutcomeRejected, nil
	}

	prediction := &models.Prediction{
		HashIdentifier:  utils.PredictionHash(index, matchID, contract),
		Index:           index,
		LayerAddress:    layer,
		MatchID:         matchID,
		ContractAddress: contract,
		Result:          result.Uint64(),
		Amount:          utils.ToCents(amount),
	}

	created, err := h.db.CreatePrediction(ctx, prediction)
	if err != nil {
		return models.OutcomeRejected, err
	}
	if !created {
		h.logger.Debug().
			Uint64(logging.FieldIndex, index).
			Uint64(logging.FieldMatch, matchID).
			Msg("Skipping replayed prediction")
		return models.OutcomeAlreadyApplied, nil
	}

	h.logger.Info().
		Uint64(logging.FieldIndex, index).
		Uint64(logging.FieldMatch, matchID).
		Str(logging.FieldAddress, layer).
		Str("amount", utils.FormatCents(prediction.Amount)).
		Msg("Prediction recorded")
	return models.OutcomeApplied, nil
}

// HandleBacked records an opponent's back against a prediction and rolls the
// wager into the prediction's matched total.
func (h *EventHandlers) HandleBacked(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < wagerEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed Backed event")
		return models.OutcomeRejected, nil
	}

	index := envelope.Topics[1].Big().Uint64()
	backer := topicAddress(envelope.Topics[2])
	matchID := envelope.Topics[3].Big().Uint64()
	contract := contractKey(envelope.ContractAddress)

	unpacked, err := h.abi.Unpack(config.BackedEvent, envelope.Data)
	if err != nil || len(unpacked) < 2 {
		h.logger.Error().Err(err).
			Str("data", envelope.Data.String()).
			Msg("Rejecting Backed event with undecodable data")
		return models.OutcomeRejected, nil
	}

	wager, result, err := bigPair(unpacked)
	if err != nil {
		h.logger.Error().Err(err).Msg("Rejecting Backed event with invalid fields")
		return models.OutcomeRejected, nil
	}

	exists, err := h.db.HasOpponent(ctx, matchID, index, backer, envelope.BlockNumber)
	if err != nil {
		return models.OutcomeRejected, err
	}
	if exists {
		h.logger.Debug().
			Uint64(logging.FieldIndex, index).
			Uint64(logging.FieldMatch, matchID).
			Str(logging.FieldAddress, backer).
			Msg("Skipping replayed back")
		return models.OutcomeAlreadyApplied, nil
	}

	prediction, err := h.db.GetPrediction(ctx, index, matchID, contract)
	if err != nil {
		// The target prediction is not ingested yet; leave the envelope
		// in-flight so a backfill plus requeue can recover it.
		return models.OutcomeRejected, fmt.Errorf("prediction %d/%d not found: %v", index, matchID, err)
	}

	wagerCents := utils.ToCents(wager)
	opponent := &models.Opponent{
		PredictionID:    prediction.ID,
		MatchID:         matchID,
		PredictionIndex: index,
		OpponentAddress: backer,
		Wager:           wagerCents,
		Result:          result.Uint64(),
		BlockNumber:     envelope.BlockNumber,
	}
	if err := h.db.CreateOpponent(ctx, opponent); err != nil {
		return models.OutcomeRejected, err
	}

	if err := h.db.AddOpponentWager(ctx, index, matchID, contract, wagerCents); err != nil {
		return models.OutcomeRejected, err
	}

	h.logger.Info().
		Uint64(logging.FieldIndex, index).
		Uint64(logging.FieldMatch, matchID).
		Str(logging.FieldAddress, backer).
		Str("wager", utils.FormatCents(wagerCents)).
		Msg("Back recorded")
	return models.OutcomeApplied, nil
}

// HandleBetSellInitiated lists a prediction for sale
func (h *EventHandlers) HandleBetSellInitiated(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < wagerEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed BetSellInitiated event")
		return models.OutcomeRejected, nil
	}

	index := envelope.Topics[1].Big().Uint64()
	matchID := envelope.Topics[2].Big().Uint64()
	priceCents := utils.ToCents(envelope.Topics[3].Big())
	contract := contractKey(envelope.ContractAddress)

	if err := h.db.MarkPredictionForSale(ctx, index, matchID, contract, priceCents); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.OutcomeRejected, fmt.Errorf("prediction %d/%d not found", index, matchID)
		}
		return models.OutcomeRejected, err
	}

	h.logger.Info().
		Uint64(logging.FieldIndex, index).
		Uint64(logging.FieldMatch, matchID).
		Str("price", utils.FormatCents(priceCents)).
		Msg("Prediction listed for sale")
	return models.OutcomeApplied, nil
}

// HandleSellingPriceChanged updates the listing price of a prediction
func (h *EventHandlers) HandleSellingPriceChanged(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < wagerEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed SellingPriceChanged event")
		return models.OutcomeRejected, nil
	}

	index := envelope.Topics[1].Big().Uint64()
	matchID := envelope.Topics[2].Big().Uint64()
	priceCents := utils.ToCents(envelope.Topics[3].Big())
	contract := contractKey(envelope.ContractAddress)

	if err := h.db.UpdatePredictionPrice(ctx, index, matchID, contract, priceCents); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.OutcomeRejected, fmt.Errorf("prediction %d/%d not found", index, matchID)
		}
		return models.OutcomeRejected, err
	}

	h.logger.Info().
		Uint64(logging.FieldIndex, index).
		Uint64(logging.FieldMatch, matchID).
		Str("price", utils.FormatCents(priceCents)).
		Msg("Listing price changed")
	return models.OutcomeApplied, nil
}

// HandleBetSold transfers a sold prediction to its buyer
func (h *EventHandlers) HandleBetSold(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < wagerEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed BetSold event")
		return models.OutcomeRejected, nil
	}

	index := envelope.Topics[1].Big().Uint64()
	matchID := envelope.Topics[2].Big().Uint64()
	buyer := topicAddress(envelope.Topics[3])
	contract := contractKey(envelope.ContractAddress)

	if err := h.db.MarkPredictionSold(ctx, index, matchID, contract, buyer); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.OutcomeRejected, fmt.Errorf("prediction %d/%d not found", index, matchID)
		}
		return models.OutcomeRejected, err
	}

	h.logger.Info().
		Uint64(logging.FieldIndex, index).
		Uint64(logging.FieldMatch, matchID).
		Str(logging.FieldAddress, buyer).
		Msg("Prediction sold")
	return models.OutcomeApplied, nil
}

// HandlePredictionSettled marks a prediction as settled
func (h *EventHandlers) HandlePredictionSettled(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < saleEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed PredictionSettled event")
		return models.OutcomeRejected, nil
	}

	index := envelope.Topics[1].Big().Uint64()
	matchID := envelope.Topics[2].Big().Uint64()
	contract := contractKey(envelope.ContractAddress)

	if err := h.db.SettlePrediction(ctx, index, matchID, contract); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.OutcomeRejected, fmt.Errorf("prediction %d/%d not found", index, matchID)
		}
		return models.OutcomeRejected, err
	}

	h.logger.Info().
		Uint64(logging.FieldIndex, index).
		Uint64(logging.FieldMatch, matchID).
		Msg("Prediction settled")
	return models.OutcomeApplied, nil
}

// HandleGameRegistered records a newly registered match
func (h *EventHandlers) HandleGameRegistered(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < gameEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed GameRegistered event")
		return models.OutcomeRejected, nil
	}

	matchID := envelope.Topics[1].Big().Uint64()

	created, err := h.db.UpsertGame(ctx, matchID)
	if err != nil {
		return models.OutcomeRejected, err
	}
	if !created {
		return models.OutcomeAlreadyApplied, nil
	}

	h.logger.Info().Uint64(logging.FieldMatch, matchID).Msg("Game registered")
	h.notifyAdmins(ctx, false, func(recipients []string) *mailbox.Mail {
		return mailbox.OnGameRegistered(recipients, matchID)
	})
	return models.OutcomeApplied, nil
}

// HandleGameResolved marks a match as resolved
func (h *EventHandlers) HandleGameResolved(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < gameEventTopics {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed GameResolved event")
		return models.OutcomeRejected, nil
	}

	matchID := envelope.Topics[1].Big().Uint64()

	if err := h.db.ResolveGame(ctx, matchID); err != nil {
		return models.OutcomeRejected, err
	}

	h.logger.Info().Uint64(logging.FieldMatch, matchID).Msg("Game resolved")
	return models.OutcomeApplied, nil
}

// notifyAdmins queues a notification to the admin recipients. Notification
// failures are logged, never propagated: the database mutation already
// happened and must not be redelivered over a mail hiccup.
func (h *EventHandlers) notifyAdmins(ctx context.Context, alert bool, build func(recipients []string) *mailbox.Mail) {
	if h.mailbox == nil {
		return
	}

	emails, err := h.db.GetAdminEmails(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load admin recipients")
		return
	}
	if len(emails) == 0 {
		return
	}

	mail := build(emails)
	if alert {
		err = h.mailbox.PushAlert(ctx, mail)
	} else {
		err = h.mailbox.PushMail(ctx, mail)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("subject", mail.Subject).Msg("Failed to queue notification")
	}
}

// bigPair extracts the two *big.Int fields shared by the wager event data
// layouts (amount+result, wager+result).
func bigPair(unpacked []interface{}) (*big.Int, *big.Int, error) {
	first, ok := unpacked[0].(*big.Int)
	if !ok || first == nil {
		return nil, nil, fmt.Errorf("invalid amount in event data")
	}
	second, ok := unpacked[1].(*big.Int)
	if !ok || second == nil {
		return nil, nil, fmt.Errorf("invalid result in event data")
	}
	return first, second, nil
}
