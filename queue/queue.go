package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
)

const (
	// EventsQueue is the main FIFO list holding undelivered event envelopes
	EventsQueue = "events_queue"

	// inflightSuffix names the companion list holding envelopes handed to a
	// worker but not yet acknowledged
	inflightSuffix = ":inflight"
)

// Delivery pairs a decoded envelope with the raw payload it was decoded
// from. Ack and Requeue remove the entry by raw payload, so the worker must
// hand back the exact bytes it popped.
type Delivery struct {
	Envelope *models.LogEnvelope
	Raw      string
}

// Queue is a durable FIFO backed by a pair of Redis lists. Push appends to
// the main list; PopToInflight atomically moves the oldest entry to the
// in-flight list, where it survives a worker crash until acknowledged.
type Queue struct {
	rdb    *redis.Client
	name   string
	logger zerolog.Logger
}

// New creates a queue over the named Redis list
func New(rdb *redis.Client, name string, logger zerolog.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		name:   name,
		logger: logger.With().Str(logging.FieldQueue, name).Logger(),
	}
}

func (q *Queue) inflight() string {
	return q.name + inflightSuffix
}

// Push appends an envelope to the tail of the queue
func (q *Queue) Push(ctx context.Context, envelope *models.LogEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %v", err)
	}

	if err := q.rdb.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to queue %s: %v", q.name, err)
	}

	q.logger.Debug().
		Str(logging.FieldContract, envelope.ContractAddress).
		Uint64(logging.FieldBlock, envelope.BlockNumber).
		Msg("Envelope queued")
	return nil
}

// PopToInflight blocks up to timeout for the oldest envelope and moves it to
// the in-flight list in the same Redis command. Returns nil when the wait
// times out with the queue empty.
func (q *Queue) PopToInflight(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, q.name, q.inflight(), "LEFT", "RIGHT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from queue %s: %v", q.name, err)
	}

	var envelope models.LogEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		// A payload that cannot be decoded can never be handled; drop it
		// from in-flight so it does not sit there forever.
		q.logger.Error().Err(err).Msg("Dropping undecodable queue entry")
		if remErr := q.rdb.LRem(ctx, q.inflight(), 1, raw).Err(); remErr != nil {
			return nil, fmt.Errorf("failed to drop undecodable entry: %v", remErr)
		}
		return nil, fmt.Errorf("failed to decode envelope: %v", err)
	}

	return &Delivery{Envelope: &envelope, Raw: raw}, nil
}

// Ack removes a delivered envelope from the in-flight list
func (q *Queue) Ack(ctx context.Context, delivery *Delivery) error {
	if err := q.rdb.LRem(ctx, q.inflight(), 1, delivery.Raw).Err(); err != nil {
		return fmt.Errorf("failed to ack queue entry: %v", err)
	}
	return nil
}

// Requeue moves an in-flight envelope back to the tail of the main queue
func (q *Queue) Requeue(ctx context.Context, raw string) error {
	removed, err := q.rdb.LRem(ctx, q.inflight(), 1, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to remove in-flight entry: %v", err)
	}
	if removed == 0 {
		return fmt.Errorf("entry not found in in-flight list")
	}

	if err := q.rdb.RPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("failed to requeue entry: %v", err)
	}
	return nil
}

// Len returns the number of undelivered envelopes
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %v", err)
	}
	return n, nil
}

// InflightLen returns the number of delivered but unacknowledged envelopes
func (q *Queue) InflightLen(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.inflight()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get in-flight length: %v", err)
	}
	return n, nil
}

// InflightEntries lists the raw payloads currently in flight, oldest first
func (q *Queue) InflightEntries(ctx context.Context) ([]string, error) {
	entries, err := q.rdb.LRange(ctx, q.inflight(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list in-flight entries: %v", err)
	}
	return entries, nil
}
