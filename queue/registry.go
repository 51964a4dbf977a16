package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/utils"
)

// subscriptionsKey is the Redis hash holding all active subscription
// descriptors, keyed by subscription id
const subscriptionsKey = "subscriptions"

// Registry persists subscription descriptors in Redis so the ingestor can
// resubscribe to the same filters after a restart or a websocket reconnect.
type Registry struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewRegistry creates a subscription registry
func NewRegistry(rdb *redis.Client, logger zerolog.Logger) *Registry {
	return &Registry{
		rdb:    rdb,
		logger: logger.With().Str(logging.FieldModule, "registry").Logger(),
	}
}

// Register stores a subscription descriptor and returns its assigned id
func (r *Registry) Register(ctx context.Context, sub *models.Subscription) (string, error) {
	if sub.ID == "" {
		sub.ID = utils.GenerateID()
	}

	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("failed to encode subscription: %v", err)
	}

	if err := r.rdb.HSet(ctx, subscriptionsKey, sub.ID, payload).Err(); err != nil {
		return "", fmt.Errorf("failed to register subscription: %v", err)
	}

	r.logger.Info().
		Str(logging.FieldSub, sub.ID).
		Str(logging.FieldEvent, sub.EventType).
		Msg("Subscription registered")
	return sub.ID, nil
}

// Remove deletes a subscription descriptor by id
func (r *Registry) Remove(ctx context.Context, id string) error {
	removed, err := r.rdb.HDel(ctx, subscriptionsKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove subscription: %v", err)
	}
	if removed == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}

	r.logger.Info().Str(logging.FieldSub, id).Msg("Subscription removed")
	return nil
}

// Get retrieves a single subscription descriptor by id
func (r *Registry) Get(ctx context.Context, id string) (*models.Subscription, error) {
	payload, err := r.rdb.HGet(ctx, subscriptionsKey, id).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %v", err)
	}

	var sub models.Subscription
	if err := json.Unmarshal([]byte(payload), &sub); err != nil {
		return nil, fmt.Errorf("failed to decode subscription: %v", err)
	}
	return &sub, nil
}

// List returns all registered subscription descriptors
func (r *Registry) List(ctx context.Context) ([]*models.Subscription, error) {
	entries, err := r.rdb.HGetAll(ctx, subscriptionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %v", err)
	}

	subs := make([]*models.Subscription, 0, len(entries))
	for id, payload := range entries {
		var sub models.Subscription
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			// Skip corrupt entries rather than failing a resubscribe of
			// every healthy one.
			r.logger.Error().Err(err).Str(logging.FieldSub, id).Msg("Skipping undecodable subscription")
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}
