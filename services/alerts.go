package services

import (
	"context"
	"math/big"

	"github.com/FezaSmartContracts/betmimi/config"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/mailbox"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/utils"
)

// Administrative events carry no ledger state; they only raise alerts to the
// admin recipients. Each handler is trivially idempotent because queuing the
// same alert twice merges in the mailbox grouping step.

// HandleRevenueWithdrawn alerts admins that protocol revenue left the contract
func (h *EventHandlers) HandleRevenueWithdrawn(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < 2 {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed RevenueWithdrawn event")
		return models.OutcomeRejected, nil
	}

	to := topicAddress(envelope.Topics[1])

	unpacked, err := h.abi.Unpack(config.RevenueWithdrawnEvent, envelope.Data)
	if err != nil || len(unpacked) < 1 {
		h.logger.Error().Err(err).
			Str("data", envelope.Data.String()).
			Msg("Rejecting RevenueWithdrawn event with undecodable data")
		return models.OutcomeRejected, nil
	}
	amount, ok := unpacked[0].(*big.Int)
	if !ok || amount == nil {
		h.logger.Error().Msg("Rejecting RevenueWithdrawn event with invalid amount")
		return models.OutcomeRejected, nil
	}

	amountCents := utils.ToCents(amount)
	h.logger.Info().
		Str(logging.FieldAddress, to).
		Str("amount", utils.FormatCents(amountCents)).
		Msg("Revenue withdrawn")

	h.notifyAdmins(ctx, true, func(recipients []string) *mailbox.Mail {
		return mailbox.OnRevenueWithdrawal(recipients, to, amountCents)
	})
	return models.OutcomeApplied, nil
}

// HandleChargeFeesChanged alerts admins that the fee percentage changed
func (h *EventHandlers) HandleChargeFeesChanged(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	unpacked, err := h.abi.Unpack(config.ChargeFeesChangedEvent, envelope.Data)
	if err != nil || len(unpacked) < 1 {
		h.logger.Error().Err(err).
			Str("data", envelope.Data.String()).
			Msg("Rejecting ChargeFeesChanged event with undecodable data")
		return models.OutcomeRejected, nil
	}
	newPercentage, ok := unpacked[0].(*big.Int)
	if !ok || newPercentage == nil {
		h.logger.Error().Msg("Rejecting ChargeFeesChanged event with invalid percentage")
		return models.OutcomeRejected, nil
	}

	h.logger.Info().
		Uint64("new_percentage", newPercentage.Uint64()).
		Msg("Charge fees changed")

	h.notifyAdmins(ctx, true, func(recipients []string) *mailbox.Mail {
		return mailbox.OnFeesChanged(recipients, newPercentage.Uint64())
	})
	return models.OutcomeApplied, nil
}

// HandleAddressWhitelisted alerts admins that an operator address was added
func (h *EventHandlers) HandleAddressWhitelisted(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) < 3 {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Msg("Rejecting malformed AddressWhitelisted event")
		return models.OutcomeRejected, nil
	}

	account := topicAddress(envelope.Topics[1])
	addedBy := topicAddress(envelope.Topics[2])

	h.logger.Info().
		Str(logging.FieldAddress, account).
		Str("added_by", addedBy).
		Msg("Address whitelisted")

	h.notifyAdmins(ctx, true, func(recipients []string) *mailbox.Mail {
		return mailbox.OnAddressWhitelisted(recipients, account, addedBy)
	})
	return models.OutcomeApplied, nil
}

// HandleOwnershipTransferInitiated alerts admins to a pending ownership move
func (h *EventHandlers) HandleOwnershipTransferInitiated(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	return h.handleOwnershipTransfer(ctx, envelope, config.OwnershipTransferInitiatedEvent)
}

// HandleOwnershipTransferCompleted alerts admins that ownership moved
func (h *EventHandlers) HandleOwnershipTransferCompleted(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	return h.handleOwnershipTransfer(ctx, envelope, config.OwnershipTransferCompletedEvent)
}

func (h *EventHandlers) handleOwnershipTransfer(ctx context.Context, envelope *models.LogEnvelope, eventName string) (models.Outcome, error) {
	if len(envelope.Topics) < 3 {
		h.logger.Error().
			Int("topics", len(envelope.Topics)).
			Str(logging.FieldEvent, eventName).
			Msg("Rejecting malformed ownership event")
		return models.OutcomeRejected, nil
	}

	// Initiated carries (currentOwner, futureOwner); Completed carries
	// (newOwner, previousOwner). Normalize to from/to for the alert.
	var from, to string
	if eventName == config.OwnershipTransferCompletedEvent {
		to = topicAddress(envelope.Topics[1])
		from = topicAddress(envelope.Topics[2])
	} else {
		from = topicAddress(envelope.Topics[1])
		to = topicAddress(envelope.Topics[2])
	}

	h.logger.Info().
		Str(logging.FieldEvent, eventName).
		Str("from", from).
		Str("to", to).
		Msg("Contract ownership change")

	h.notifyAdmins(ctx, true, func(recipients []string) *mailbox.Mail {
		return mailbox.OnOwnershipTransfer(recipients, eventName, from, to)
	})
	return models.OutcomeApplied, nil
}
