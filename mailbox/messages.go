package mailbox

import (
	"fmt"

	"github.com/FezaSmartContracts/betmimi/utils"
)

// Message builders for the notifications raised by event handlers. Each
// returns a Mail ready for PushMail or PushAlert.

// OnDeposit confirms a credited deposit to the admin recipients
func OnDeposit(recipients []string, address string, amountCents int64, blockNumber uint64) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Deposit credited",
		Body: fmt.Sprintf(
			"A deposit of %s USDT from %s was credited at block %d.",
			utils.FormatCents(amountCents), address, blockNumber,
		),
	}
}

// OnClaim confirms a processed withdrawal
func OnClaim(recipients []string, address string, amountCents int64, blockNumber uint64) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Withdrawal processed",
		Body: fmt.Sprintf(
			"A withdrawal of %s USDT by %s was processed at block %d.",
			utils.FormatCents(amountCents), address, blockNumber,
		),
	}
}

// OnGameRegistered announces a newly registered match
func OnGameRegistered(recipients []string, matchID uint64) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "New game registered",
		Body:       fmt.Sprintf("Match %d is now open for predictions.", matchID),
	}
}

// OnRevenueWithdrawal alerts admins that protocol revenue left the contract
func OnRevenueWithdrawal(recipients []string, to string, amountCents int64) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Revenue withdrawal",
		Body: fmt.Sprintf(
			"Protocol revenue of %s USDT was withdrawn to %s.",
			utils.FormatCents(amountCents), to,
		),
	}
}

// OnOwnershipTransfer alerts admins about a contract ownership change
func OnOwnershipTransfer(recipients []string, event, from, to string) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Contract ownership change",
		Body:       fmt.Sprintf("%s: ownership moving from %s to %s.", event, from, to),
	}
}

// OnFeesChanged alerts admins that the charge fee percentage changed
func OnFeesChanged(recipients []string, newPercentage uint64) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Charge fees changed",
		Body:       fmt.Sprintf("The contract charge fee is now %d%%.", newPercentage),
	}
}

// OnAddressWhitelisted alerts admins that a new operator address was added
func OnAddressWhitelisted(recipients []string, account, addedBy string) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Address whitelisted",
		Body:       fmt.Sprintf("%s was whitelisted on the contract by %s.", account, addedBy),
	}
}

// OnWebsocketDisconnected alerts operators that the event feed dropped
func OnWebsocketDisconnected(recipients []string, reason string) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Event feed disconnected",
		Body: fmt.Sprintf(
			"The websocket connection to the node dropped: %s. Reconnection is in progress; a backfill may be needed for the gap.",
			reason,
		),
	}
}

// OnWebsocketReconnected tells operators the feed recovered
func OnWebsocketReconnected(recipients []string, attempts int) *Mail {
	return &Mail{
		Recipients: recipients,
		Subject:    "Event feed reconnected",
		Body:       fmt.Sprintf("The websocket connection recovered after %d attempt(s). Subscriptions were re-established.", attempts),
	}
}
