package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// LogEnvelope wraps a raw upstream log for transport through the durable
// queue. It is immutable once enqueued; ownership transfers from the ingestor
// to the queue to the consumer that pops it.
type LogEnvelope struct {
	SubscriptionID  string        `json:"subscription_id"`
	ContractAddress string        `json:"contract_address"`
	Topics          []common.Hash `json:"topics"`
	Data            hexutil.Bytes `json:"data"`
	BlockNumber     uint64        `json:"block_number"`
	TxHash          string        `json:"tx_hash"`
}

// Outcome reports how a handler disposed of an event. Duplicates and stale
// deliveries are explicit results, not errors, so callers can branch without
// parsing log strings.
type Outcome int

const (
	// OutcomeApplied means the event mutated state.
	OutcomeApplied Outcome = iota

	// OutcomeAlreadyApplied means the event was a duplicate or stale
	// delivery and was dropped as a no-op.
	OutcomeAlreadyApplied

	// OutcomeRejected means the event was structurally valid but could not
	// be applied (e.g. it references a prediction that does not exist).
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
