package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
)

// HandlerFunc applies one decoded event envelope to the database. The
// outcome reports whether the event mutated state, was a recognized replay,
// or was rejected as unprocessable; a non-nil error means a transient
// failure worth redelivering.
type HandlerFunc func(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error)

type namedHandler struct {
	name string
	fn   HandlerFunc
}

// Dispatcher routes queued envelopes to handlers by their event signature
// topic. Handlers are registered under the ABI event name, so the routing
// table survives restarts without persisting any callable state.
type Dispatcher struct {
	abi      abi.ABI
	handlers map[common.Hash]namedHandler
	logger   zerolog.Logger
}

// NewDispatcher parses the contract ABI and creates an empty routing table
func NewDispatcher(eventsABI string, logger zerolog.Logger) (*Dispatcher, error) {
	parsedABI, err := abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %v", err)
	}

	return &Dispatcher{
		abi:      parsedABI,
		handlers: make(map[common.Hash]namedHandler),
		logger:   logger.With().Str(logging.FieldModule, "dispatcher").Logger(),
	}, nil
}

// ABI returns the parsed contract ABI
func (d *Dispatcher) ABI() abi.ABI {
	return d.abi
}

// TopicFor returns the signature topic of a named ABI event
func (d *Dispatcher) TopicFor(eventName string) (common.Hash, error) {
	event, ok := d.abi.Events[eventName]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event %s", eventName)
	}
	return event.ID, nil
}

// Register binds a handler to a named ABI event
func (d *Dispatcher) Register(eventName string, fn HandlerFunc) error {
	topic, err := d.TopicFor(eventName)
	if err != nil {
		return err
	}
	if _, exists := d.handlers[topic]; exists {
		return fmt.Errorf("handler already registered for event %s", eventName)
	}

	d.handlers[topic] = namedHandler{name: eventName, fn: fn}
	return nil
}

// Topics returns the signature topics of all registered handlers, for
// building subscription filters that cover exactly the handled events.
func (d *Dispatcher) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.handlers))
	for topic := range d.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Dispatch routes an envelope to its handler. Envelopes with no handler are
// rejected without error so the worker acknowledges and drops them.
func (d *Dispatcher) Dispatch(ctx context.Context, envelope *models.LogEnvelope) (models.Outcome, error) {
	if len(envelope.Topics) == 0 {
		d.logger.Error().
			Str(logging.FieldContract, envelope.ContractAddress).
			Uint64(logging.FieldBlock, envelope.BlockNumber).
			Msg("Rejecting envelope with no topics")
		return models.OutcomeRejected, nil
	}

	handler, ok := d.handlers[envelope.Topics[0]]
	if !ok {
		d.logger.Warn().
			Str("topic", envelope.Topics[0].Hex()).
			Str(logging.FieldContract, envelope.ContractAddress).
			Uint64(logging.FieldBlock, envelope.BlockNumber).
			Msg("No handler for event topic, dropping")
		return models.OutcomeRejected, nil
	}

	outcome, err := handler.fn(ctx, envelope)
	if err != nil {
		d.logger.Error().Err(err).
			Str(logging.FieldEvent, handler.name).
			Uint64(logging.FieldBlock, envelope.BlockNumber).
			Msg("Handler failed")
		return outcome, fmt.Errorf("handler %s: %v", handler.name, err)
	}

	d.logger.Debug().
		Str(logging.FieldEvent, handler.name).
		Uint64(logging.FieldBlock, envelope.BlockNumber).
		Str("outcome", outcome.String()).
		Msg("Envelope dispatched")
	return outcome, nil
}
