package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/db"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/mailbox"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/queue"
)

// Ingestor tuning constants
const (
	// DefaultErrorChannelBuffer sizes the goroutine error channel
	DefaultErrorChannelBuffer = 100

	// DefaultLogsChannelBuffer sizes the subscription log channel
	DefaultLogsChannelBuffer = 200

	// DefaultQueuePushTimeout bounds a single queue push
	DefaultQueuePushTimeout = 10 * time.Second

	// Reconnection backoff bounds. ReconnectMaxRetries is the consecutive
	// failure count that triggers a critical alert; retrying itself never
	// stops.
	ReconnectMaxRetries = 10
	ReconnectBaseDelay  = 1 * time.Second
	ReconnectMaxDelay   = 5 * time.Minute
)

// logSubscriber is the slice of the provider client the ingestor needs.
// *ethclient.Client satisfies it.
type logSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// LiveIngestor subscribes to contract event logs over a websocket connection
// and pushes each received log onto the durable queue as an envelope. It
// owns the subscription lifecycle: registering durable descriptors, watching
// for disconnects, reconnecting with capped exponential backoff and
// resubscribing every registered descriptor once the connection recovers.
type LiveIngestor struct {
	client   logSubscriber
	db       db.Database
	registry *queue.Registry
	events   *queue.Queue
	mailbox  *mailbox.Manager
	logger   zerolog.Logger

	addresses []common.Address
	topics    []common.Hash

	subs             map[string]ethereum.Subscription
	registrationID   string
	activeGoroutines int32
	errChannel       chan error
	mu               sync.Mutex

	// Metrics tracking
	eventsQueued      int64
	queueErrors       int64
	reconnectionCount int64
	lastEventTime     time.Time
	startTime         time.Time

	// Restart coordination
	restartSignal chan struct{}

	// Backoff tuning, overridable in tests
	reconnectBaseDelay time.Duration
	reconnectMaxDelay  time.Duration

	// Goroutine cleanup management
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	goroutineWg   sync.WaitGroup
	isShutdown    bool
	shutdownMu    sync.RWMutex
}

// NewLiveIngestor creates an ingestor for the given contract addresses and
// event signature topics.
func NewLiveIngestor(
	client logSubscriber,
	database db.Database,
	registry *queue.Registry,
	events *queue.Queue,
	mailboxManager *mailbox.Manager,
	addresses []common.Address,
	topics []common.Hash,
	logger zerolog.Logger,
) *LiveIngestor {
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	return &LiveIngestor{
		client:             client,
		db:                 database,
		registry:           registry,
		events:             events,
		mailbox:            mailboxManager,
		addresses:          addresses,
		topics:             topics,
		subs:               make(map[string]ethereum.Subscription),
		errChannel:         make(chan error, DefaultErrorChannelBuffer),
		logger:             logger.With().Str(logging.FieldModule, "ingestor").Logger(),
		startTime:          time.Now(),
		restartSignal:      make(chan struct{}, 1),
		reconnectBaseDelay: ReconnectBaseDelay,
		reconnectMaxDelay:  ReconnectMaxDelay,
		cleanupCtx:         cleanupCtx,
		cleanupCancel:      cleanupCancel,
	}
}

// ActiveGoroutines returns the current count of active goroutines
func (s *LiveIngestor) ActiveGoroutines() int32 {
	return atomic.LoadInt32(&s.activeGoroutines)
}

// GetSubscriptionCount returns the number of active websocket subscriptions
func (s *LiveIngestor) GetSubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// IsHealthy reports whether the ingestor is connected and running
func (s *LiveIngestor) IsHealthy() bool {
	// Grace period for newly started ingestors still connecting
	if time.Since(s.startTime) < 30*time.Second {
		return true
	}
	return atomic.LoadInt32(&s.activeGoroutines) >= 2 && s.GetSubscriptionCount() >= 1
}

// IngestorMetrics represents a snapshot of ingestor counters
type IngestorMetrics struct {
	ActiveGoroutines  int32     `json:"active_goroutines"`
	SubscriptionCount int       `json:"subscription_count"`
	EventsQueued      int64     `json:"events_queued"`
	QueueErrors       int64     `json:"queue_errors"`
	ReconnectionCount int64     `json:"reconnection_count"`
	LastEventTime     time.Time `json:"last_event_time"`
	IsHealthy         bool      `json:"is_healthy"`
}

// GetMetrics returns a snapshot of the ingestor counters
func (s *LiveIngestor) GetMetrics() IngestorMetrics {
	s.mu.Lock()
	lastEventTime := s.lastEventTime
	subscriptionCount := len(s.subs)
	s.mu.Unlock()

	return IngestorMetrics{
		ActiveGoroutines:  atomic.LoadInt32(&s.activeGoroutines),
		SubscriptionCount: subscriptionCount,
		EventsQueued:      atomic.LoadInt64(&s.eventsQueued),
		QueueErrors:       atomic.LoadInt64(&s.queueErrors),
		ReconnectionCount: atomic.LoadInt64(&s.reconnectionCount),
		LastEventTime:     lastEventTime,
		IsHealthy:         s.IsHealthy(),
	}
}

// Start registers the durable subscription descriptor and launches the
// subscription goroutines.
func (s *LiveIngestor) Start(ctx context.Context) error {
	if s.IsShutdown() {
		return fmt.Errorf("cannot start: ingestor is shutdown")
	}

	if activeGoroutines := atomic.LoadInt32(&s.activeGoroutines); activeGoroutines > 0 {
		s.logger.Info().
			Int32("active_goroutines", activeGoroutines).
			Msg("Ingestor already running, skipping start")
		return nil
	}

	// Persist the descriptor so a restarted process resubscribes to the
	// same filters even if the configuration changed underneath it.
	descriptor := &models.Subscription{
		EventType: "contract-events",
		Addresses: hexAddresses(s.addresses),
		Topics:    hexTopics(s.topics),
	}
	regID, err := s.registry.Register(ctx, descriptor)
	if err != nil {
		return fmt.Errorf("failed to register subscription: %v", err)
	}
	s.registrationID = regID

	s.startGoroutine("error-monitor", func() {
		s.monitorErrors(s.cleanupCtx)
	})

	s.startGoroutine("subscription-reconnection", func() {
		s.runWithReconnection(s.cleanupCtx)
	})

	s.logger.Info().
		Int("contracts", len(s.addresses)).
		Int("topics", len(s.topics)).
		Str(logging.FieldSub, regID).
		Msg("Live ingestor started")
	return nil
}

// RestartSubscription tears down the active subscriptions and signals the
// reconnection loop to resubscribe immediately.
func (s *LiveIngestor) RestartSubscription() {
	s.UnsubscribeAll()

	select {
	case s.restartSignal <- struct{}{}:
		s.logger.Info().Msg("Restart signal sent")
	default:
		s.logger.Debug().Msg("Restart signal already pending")
	}
}

// monitorErrors processes errors from goroutines
func (s *LiveIngestor) monitorErrors(ctx context.Context) {
	for {
		select {
		case err := <-s.errChannel:
			s.logger.Error().Err(err).Msg("Error in ingestor goroutine")
		case <-ctx.Done():
			s.logger.Debug().Msg("Error monitor shutting down")
			return
		}
	}
}

// runWithReconnection keeps a subscription alive for the life of the
// process, backing off between attempts and alerting operators on disconnect
// and recovery. Connectivity failures are never fatal: the attempt counter
// resets whenever a subscription is established, and once failures pile up
// past ReconnectMaxRetries the loop raises a critical alert but keeps
// retrying at the capped delay.
func (s *LiveIngestor) runWithReconnection(ctx context.Context) {
	var (
		attempt      int
		disconnected bool
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Msg("Context cancelled, stopping subscription attempts")
			return
		case <-s.restartSignal:
			s.logger.Info().Msg("Restart signal received, resubscribing")
			attempt = 0
		default:
		}

		if attempt > 0 {
			delay := s.reconnectDelay(attempt)
			s.logger.Info().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying subscription attempt")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-s.restartSignal:
				s.logger.Info().Msg("Restart signal received during delay, resubscribing immediately")
				attempt = 0
			}
		}

		established, err := s.createAndRunSubscription(ctx, disconnected, attempt)
		if err == nil {
			// Subscription ended normally (context cancelled)
			return
		}
		if ctx.Err() != nil {
			return
		}

		if established {
			// The connection was live before this drop; backoff starts
			// over and the next recovery alerts again.
			attempt = 0
			disconnected = false
		}

		s.logger.Error().
			Int("attempt", attempt+1).
			Err(err).
			Msg("Subscription failed")

		attempt++
		if attempt == ReconnectMaxRetries {
			s.errChannel <- fmt.Errorf("no stable subscription after %d attempts, still retrying", ReconnectMaxRetries)
			s.logger.Error().
				Int("attempts", ReconnectMaxRetries).
				Msg("CRITICAL: Unable to establish stable subscription")
		}

		if !disconnected {
			disconnected = true
			s.alertOperators(func(recipients []string) *mailbox.Mail {
				return mailbox.OnWebsocketDisconnected(recipients, err.Error())
			})
		}
	}
}

// reconnectDelay returns the capped exponential backoff for the given
// consecutive failure count.
func (s *LiveIngestor) reconnectDelay(attempt int) time.Duration {
	// 1<<attempt overflows long before the cap stops growing
	if attempt > 20 {
		return s.reconnectMaxDelay
	}
	delay := time.Duration(1<<uint(attempt)) * s.reconnectBaseDelay
	if delay > s.reconnectMaxDelay {
		delay = s.reconnectMaxDelay
	}
	return delay
}

// createAndRunSubscription resubscribes every registered descriptor and runs
// the log forwarding loop until the subscription fails or the context ends.
// The bool reports whether a subscription was established before the error.
func (s *LiveIngestor) createAndRunSubscription(ctx context.Context, recovering bool, attempts int) (bool, error) {
	query, err := s.buildFilterQuery(ctx)
	if err != nil {
		return false, err
	}

	logs := make(chan types.Log, DefaultLogsChannelBuffer)
	sub, err := s.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return false, fmt.Errorf("failed to subscribe to logs: %v", err)
	}

	s.mu.Lock()
	s.subs[s.registrationID] = sub
	s.mu.Unlock()

	s.logger.Info().
		Int("addresses", len(query.Addresses)).
		Str(logging.FieldSub, s.registrationID).
		Msg("Subscribed to contract events")

	if recovering {
		// The counter and the alert both mark one successful recovery
		atomic.AddInt64(&s.reconnectionCount, 1)
		s.alertOperators(func(recipients []string) *mailbox.Mail {
			return mailbox.OnWebsocketReconnected(recipients, attempts)
		})
	}

	err = s.forwardLogs(ctx, sub, logs)

	s.mu.Lock()
	if storedSub, exists := s.subs[s.registrationID]; exists && storedSub == sub {
		delete(s.subs, s.registrationID)
	}
	s.mu.Unlock()
	sub.Unsubscribe()

	return true, err
}

// buildFilterQuery unions the filters of every registered descriptor, so a
// reconnect restores subscriptions registered by any prior run.
func (s *LiveIngestor) buildFilterQuery(ctx context.Context) (ethereum.FilterQuery, error) {
	descriptors, err := s.registry.List(ctx)
	if err != nil {
		return ethereum.FilterQuery{}, fmt.Errorf("failed to list subscriptions: %v", err)
	}

	addressSet := make(map[common.Address]bool)
	topicSet := make(map[common.Hash]bool)
	for _, descriptor := range descriptors {
		for _, addr := range descriptor.Addresses {
			addressSet[common.HexToAddress(addr)] = true
		}
		for _, topic := range descriptor.Topics {
			topicSet[common.HexToHash(topic)] = true
		}
	}

	// Fall back to the configured filters when the registry is empty
	if len(addressSet) == 0 {
		for _, addr := range s.addresses {
			addressSet[addr] = true
		}
		for _, topic := range s.topics {
			topicSet[topic] = true
		}
	}

	addresses := make([]common.Address, 0, len(addressSet))
	for addr := range addressSet {
		addresses = append(addresses, addr)
	}
	topics := make([]common.Hash, 0, len(topicSet))
	for topic := range topicSet {
		topics = append(topics, topic)
	}

	return ethereum.FilterQuery{
		Addresses: addresses,
		Topics:    [][]common.Hash{topics},
	}, nil
}

// forwardLogs converts received logs to envelopes and pushes them onto the
// durable queue.
func (s *LiveIngestor) forwardLogs(ctx context.Context, sub ethereum.Subscription, logs chan types.Log) error {
	for {
		select {
		case err := <-sub.Err():
			if err == nil {
				// The error channel closes once Unsubscribe runs, e.g.
				// via RestartSubscription; treat that as a dropped
				// subscription so the reconnect loop resubscribes.
				return fmt.Errorf("subscription closed")
			}
			return fmt.Errorf("subscription error: %v", err)
		case vLog, ok := <-logs:
			if !ok {
				return fmt.Errorf("log channel closed")
			}
			s.enqueueLog(ctx, vLog)
		case <-ctx.Done():
			s.logger.Debug().Msg("Context cancelled, stopping log forwarding")
			return nil
		}
	}
}

func (s *LiveIngestor) enqueueLog(ctx context.Context, vLog types.Log) {
	envelope := &models.LogEnvelope{
		SubscriptionID:  s.registrationID,
		ContractAddress: strings.ToLower(vLog.Address.Hex()),
		Topics:          vLog.Topics,
		Data:            vLog.Data,
		BlockNumber:     vLog.BlockNumber,
		TxHash:          vLog.TxHash.Hex(),
	}

	pushCtx, cancel := context.WithTimeout(ctx, DefaultQueuePushTimeout)
	err := s.events.Push(pushCtx, envelope)
	cancel()

	if err != nil {
		atomic.AddInt64(&s.queueErrors, 1)
		s.errChannel <- fmt.Errorf("failed to queue log from block %d: %v", vLog.BlockNumber, err)
		return
	}

	atomic.AddInt64(&s.eventsQueued, 1)
	s.mu.Lock()
	s.lastEventTime = time.Now()
	s.mu.Unlock()

	s.logger.Info().
		Uint64(logging.FieldBlock, vLog.BlockNumber).
		Str("tx_hash", vLog.TxHash.Hex()).
		Str(logging.FieldContract, envelope.ContractAddress).
		Msg("Event queued")
}

// alertOperators queues an operator alert, loading recipients from the
// admins table. Alerting is best effort.
func (s *LiveIngestor) alertOperators(build func(recipients []string) *mailbox.Mail) {
	if s.mailbox == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	emails, err := s.db.GetAdminEmails(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load operator recipients")
		return
	}
	if len(emails) == 0 {
		return
	}

	if err := s.mailbox.PushAlert(ctx, build(emails)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to queue operator alert")
	}
}

// UnsubscribeAll unsubscribes from all active websocket subscriptions
func (s *LiveIngestor) UnsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sub := range s.subs {
		sub.Unsubscribe()
		s.logger.Debug().Str(logging.FieldSub, id).Msg("Unsubscribed")
		delete(s.subs, id)
	}
}

// Shutdown gracefully stops the ingestor, removing its durable descriptor
// and waiting for all goroutines to finish.
func (s *LiveIngestor) Shutdown(timeout time.Duration) error {
	s.shutdownMu.Lock()
	if s.isShutdown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down live ingestor...")

	s.cleanupCancel()
	s.UnsubscribeAll()

	if s.registrationID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.registry.Remove(ctx, s.registrationID); err != nil {
			s.logger.Error().Err(err).Msg("Failed to remove subscription registration")
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.goroutineWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Live ingestor shutdown completed")
		return nil
	case <-time.After(timeout):
		s.logger.Error().
			Dur("timeout", timeout).
			Msg("Live ingestor shutdown timed out")
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}

// IsShutdown returns whether the ingestor is in shutdown state
func (s *LiveIngestor) IsShutdown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShutdown
}

// startGoroutine safely starts a goroutine with proper cleanup tracking
func (s *LiveIngestor) startGoroutine(name string, fn func()) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		s.logger.Debug().
			Str("goroutine_name", name).
			Msg("Cannot start goroutine: ingestor is shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	s.goroutineWg.Add(1)
	atomic.AddInt32(&s.activeGoroutines, 1)

	go func() {
		defer func() {
			s.goroutineWg.Done()
			atomic.AddInt32(&s.activeGoroutines, -1)

			if r := recover(); r != nil {
				s.errChannel <- fmt.Errorf("panic in goroutine %s: %v", name, r)
				s.logger.Error().
					Str("goroutine_name", name).
					Any("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("CRITICAL: Panic in goroutine")
			}
		}()

		fn()
	}()
}

func hexAddresses(addresses []common.Address) []string {
	out := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, strings.ToLower(addr.Hex()))
	}
	return out
}

func hexTopics(topics []common.Hash) []string {
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		out = append(out, topic.Hex())
	}
	return out
}
