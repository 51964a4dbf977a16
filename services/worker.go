package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/models"
	"github.com/FezaSmartContracts/betmimi/queue"
)

const (
	// DefaultWorkerCount is the consumer count when the config leaves it unset
	DefaultWorkerCount = 4

	// workerPopTimeout bounds a single blocking pop so workers notice
	// shutdown promptly
	workerPopTimeout = 5 * time.Second

	// workerHandleTimeout bounds one dispatch including its DB retries
	workerHandleTimeout = 45 * time.Second
)

// WorkerPool runs a fixed set of consumers over the durable queue. Each
// consumer pops an envelope into the in-flight list, dispatches it, and
// acknowledges on any terminal outcome. Envelopes whose handler returned an
// error stay in-flight for inspection and manual requeue.
type WorkerPool struct {
	events     *queue.Queue
	dispatcher *Dispatcher
	count      int
	logger     zerolog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group

	// Metrics tracking
	processed int64
	replayed  int64
	rejected  int64
	failed    int64
}

// NewWorkerPool creates a pool of count consumers
func NewWorkerPool(events *queue.Queue, dispatcher *Dispatcher, count int, logger zerolog.Logger) *WorkerPool {
	if count <= 0 {
		count = DefaultWorkerCount
	}
	return &WorkerPool{
		events:     events,
		dispatcher: dispatcher,
		count:      count,
		logger:     logger.With().Str(logging.FieldModule, "workers").Logger(),
	}
}

// Start launches the consumers
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < p.count; i++ {
		workerID := i
		p.group.Go(func() error {
			p.run(ctx, workerID)
			return nil
		})
	}

	p.logger.Info().Int("workers", p.count).Msg("Worker pool started")
}

// Shutdown stops the consumers and waits for in-progress dispatches
func (p *WorkerPool) Shutdown() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	if err := p.group.Wait(); err != nil {
		return fmt.Errorf("worker pool shutdown: %v", err)
	}
	p.logger.Info().Msg("Worker pool stopped")
	return nil
}

func (p *WorkerPool) run(ctx context.Context, workerID int) {
	logger := p.logger.With().Int("worker_id", workerID).Logger()
	logger.Debug().Msg("Worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug().Msg("Worker shutting down")
			return
		}

		delivery, err := p.events.PopToInflight(ctx, workerPopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug().Msg("Worker shutting down")
				return
			}
			logger.Error().Err(err).Msg("Failed to pop from queue")
			continue
		}
		if delivery == nil {
			// Queue empty, wait again
			continue
		}

		p.handle(ctx, logger, delivery)
	}
}

func (p *WorkerPool) handle(ctx context.Context, logger zerolog.Logger, delivery *queue.Delivery) {
	handleCtx, cancel := context.WithTimeout(ctx, workerHandleTimeout)
	outcome, err := p.dispatcher.Dispatch(handleCtx, delivery.Envelope)
	cancel()

	if err != nil {
		// Leave the envelope in-flight: the failure may be transient and
		// operators can requeue it once the cause is fixed.
		atomic.AddInt64(&p.failed, 1)
		logger.Error().Err(err).
			Uint64(logging.FieldBlock, delivery.Envelope.BlockNumber).
			Str(logging.FieldContract, delivery.Envelope.ContractAddress).
			Msg("Dispatch failed, leaving envelope in-flight")
		return
	}

	switch outcome {
	case models.OutcomeApplied:
		atomic.AddInt64(&p.processed, 1)
	case models.OutcomeAlreadyApplied:
		atomic.AddInt64(&p.replayed, 1)
	case models.OutcomeRejected:
		atomic.AddInt64(&p.rejected, 1)
	}

	ackCtx, cancel := context.WithTimeout(context.Background(), workerPopTimeout)
	defer cancel()
	if err := p.events.Ack(ackCtx, delivery); err != nil {
		logger.Error().Err(err).
			Uint64(logging.FieldBlock, delivery.Envelope.BlockNumber).
			Msg("Failed to ack envelope")
	}
}

// WorkerMetrics represents a snapshot of worker counters
type WorkerMetrics struct {
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Replayed  int64 `json:"replayed"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
}

// GetMetrics returns a snapshot of the worker counters
func (p *WorkerPool) GetMetrics() WorkerMetrics {
	return WorkerMetrics{
		Workers:   p.count,
		Processed: atomic.LoadInt64(&p.processed),
		Replayed:  atomic.LoadInt64(&p.replayed),
		Rejected:  atomic.LoadInt64(&p.rejected),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
