package services

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/queue"
)

// MetricsService handles Prometheus metrics collection and exposition
type MetricsService struct {
	// Prometheus metrics
	ingestorUp         prometheus.Gauge
	activeGoroutines   prometheus.Gauge
	subscriptionCount  prometheus.Gauge
	eventsQueuedTotal  prometheus.Gauge
	queueErrorsTotal   prometheus.Gauge
	reconnectionsTotal prometheus.Gauge
	lastEventTimestamp prometheus.Gauge
	queueDepth         prometheus.Gauge
	inflightDepth      prometheus.Gauge
	eventsProcessed    *prometheus.GaugeVec

	// Component references
	ingestor *LiveIngestor
	workers  *WorkerPool
	events   *queue.Queue
	logger   zerolog.Logger
	registry *prometheus.Registry
}

// NewMetricsService creates a new metrics service
func NewMetricsService(ingestor *LiveIngestor, workers *WorkerPool, events *queue.Queue, logger zerolog.Logger) *MetricsService {
	registry := prometheus.NewRegistry()

	ingestorUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_ingestor_up",
		Help: "Whether the live ingestor is healthy (1 = healthy, 0 = unhealthy)",
	})

	activeGoroutines := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_active_goroutines",
		Help: "Number of active ingestor goroutines",
	})

	subscriptionCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_subscriptions_active",
		Help: "Number of active websocket subscriptions",
	})

	eventsQueuedTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_events_queued_total",
		Help: "Total number of events pushed onto the durable queue",
	})

	queueErrorsTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_queue_errors_total",
		Help: "Total number of failed queue pushes",
	})

	reconnectionsTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_reconnections_total",
		Help: "Total number of websocket reconnections",
	})

	lastEventTimestamp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_last_event_timestamp",
		Help: "Timestamp of the last queued event",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_queue_depth",
		Help: "Number of undelivered envelopes in the events queue",
	})

	inflightDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "betmimi_queue_inflight_depth",
		Help: "Number of delivered but unacknowledged envelopes",
	})

	eventsProcessed := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "betmimi_events_processed_total",
			Help: "Total number of dispatched envelopes by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(ingestorUp)
	registry.MustRegister(activeGoroutines)
	registry.MustRegister(subscriptionCount)
	registry.MustRegister(eventsQueuedTotal)
	registry.MustRegister(queueErrorsTotal)
	registry.MustRegister(reconnectionsTotal)
	registry.MustRegister(lastEventTimestamp)
	registry.MustRegister(queueDepth)
	registry.MustRegister(inflightDepth)
	registry.MustRegister(eventsProcessed)

	return &MetricsService{
		ingestorUp:         ingestorUp,
		activeGoroutines:   activeGoroutines,
		subscriptionCount:  subscriptionCount,
		eventsQueuedTotal:  eventsQueuedTotal,
		queueErrorsTotal:   queueErrorsTotal,
		reconnectionsTotal: reconnectionsTotal,
		lastEventTimestamp: lastEventTimestamp,
		queueDepth:         queueDepth,
		inflightDepth:      inflightDepth,
		eventsProcessed:    eventsProcessed,
		ingestor:           ingestor,
		workers:            workers,
		events:             events,
		logger:             logger.With().Str(logging.FieldModule, "metrics").Logger(),
		registry:           registry,
	}
}

// UpdateMetrics collects and updates all metrics from the registered components
func (m *MetricsService) UpdateMetrics(ctx context.Context) {
	if m.ingestor != nil {
		metrics := m.ingestor.GetMetrics()
		if metrics.IsHealthy {
			m.ingestorUp.Set(1)
		} else {
			m.ingestorUp.Set(0)
		}
		m.activeGoroutines.Set(float64(metrics.ActiveGoroutines))
		m.subscriptionCount.Set(float64(metrics.SubscriptionCount))
		m.eventsQueuedTotal.Set(float64(metrics.EventsQueued))
		m.queueErrorsTotal.Set(float64(metrics.QueueErrors))
		m.reconnectionsTotal.Set(float64(metrics.ReconnectionCount))
		if !metrics.LastEventTime.IsZero() {
			m.lastEventTimestamp.Set(float64(metrics.LastEventTime.Unix()))
		}
	}

	if m.workers != nil {
		metrics := m.workers.GetMetrics()
		m.eventsProcessed.WithLabelValues("applied").Set(float64(metrics.Processed))
		m.eventsProcessed.WithLabelValues("already_applied").Set(float64(metrics.Replayed))
		m.eventsProcessed.WithLabelValues("rejected").Set(float64(metrics.Rejected))
		m.eventsProcessed.WithLabelValues("failed").Set(float64(metrics.Failed))
	}

	if m.events != nil {
		if depth, err := m.events.Len(ctx); err == nil {
			m.queueDepth.Set(float64(depth))
		}
		if inflight, err := m.events.InflightLen(ctx); err == nil {
			m.inflightDepth.Set(float64(inflight))
		}
	}
}

// StartMetricsUpdater starts a goroutine that periodically updates metrics
func (m *MetricsService) StartMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		m.logger.Info().Msg("Started Prometheus metrics updater")

		for {
			select {
			case <-ticker.C:
				updateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				m.UpdateMetrics(updateCtx)
				cancel()
			case <-ctx.Done():
				m.logger.Info().Msg("Stopped Prometheus metrics updater")
				return
			}
		}
	}()
}

// GetHandler returns the Prometheus metrics HTTP handler
func (m *MetricsService) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
