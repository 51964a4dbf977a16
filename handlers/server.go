package handlers

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	httputil "github.com/FezaSmartContracts/betmimi/http"
	"github.com/FezaSmartContracts/betmimi/queue"
	"github.com/FezaSmartContracts/betmimi/services"
	"github.com/FezaSmartContracts/betmimi/utils"
)

const requestTimeout = 30 * time.Second

// Server exposes the operational HTTP API: health and metrics endpoints
// plus the admin surface for backfills and queue management.
type Server struct {
	ingestor *services.LiveIngestor
	workers  *services.WorkerPool
	backfill *services.BackfillFetcher
	metrics  *services.MetricsService
	events   *queue.Queue
	registry *queue.Registry
	logger   zerolog.Logger
}

// NewServer creates the operational API server
func NewServer(
	ingestor *services.LiveIngestor,
	workers *services.WorkerPool,
	backfill *services.BackfillFetcher,
	metrics *services.MetricsService,
	events *queue.Queue,
	registry *queue.Registry,
	logger zerolog.Logger,
) *Server {
	return &Server{
		ingestor: ingestor,
		workers:  workers,
		backfill: backfill,
		metrics:  metrics,
		events:   events,
		registry: registry,
		logger:   logger,
	}
}

// Router builds the gin router with all routes and middleware attached
func (s *Server) Router(corsOrigins string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httputil.Zerolog(s.logger, zerolog.InfoLevel))
	router.Use(httputil.CORS(corsOrigins))
	router.Use(httputil.Timeout(requestTimeout, s.logger))

	router.GET("/health", s.Health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.GetHandler()))
	}

	v1 := router.Group("/api/v1")
	{
		admin := v1.Group("/admin")
		{
			admin.POST("/backfill", s.RunBackfill)
			admin.GET("/queue", s.QueueStatus)
			admin.POST("/queue/requeue", s.RequeueEntry)
			admin.GET("/subscriptions", s.ListSubscriptions)
			admin.POST("/subscriptions/restart", s.RestartSubscriptions)
		}
	}

	return router
}

// Health reports liveness plus the ingestor and worker snapshots
func (s *Server) Health(c *gin.Context) {
	status := "ok"
	ingestorMetrics := s.ingestor.GetMetrics()
	if !ingestorMetrics.IsHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"ingestor": ingestorMetrics,
		"workers":  s.workers.GetMetrics(),
	})
}

// RunBackfill replays a historical block range through the queue
func (s *Server) RunBackfill(c *gin.Context) {
	var req struct {
		FromBlock uint64   `json:"from_block" binding:"required"`
		ToBlock   uint64   `json:"to_block" binding:"required"`
		Contracts []string `json:"contracts" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.ErrBadRequest(c, err)
		return
	}

	addresses := make([]common.Address, 0, len(req.Contracts))
	for _, contract := range req.Contracts {
		if err := utils.ValidateAddress(contract); err != nil {
			httputil.ErrBadRequest(c, err)
			return
		}
		addresses = append(addresses, common.HexToAddress(contract))
	}

	queued, err := s.backfill.Fetch(c.Request.Context(), req.FromBlock, req.ToBlock, addresses, nil)
	if err != nil {
		httputil.ErrFromService(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from_block":    req.FromBlock,
		"to_block":      req.ToBlock,
		"events_queued": queued,
	})
}

// QueueStatus reports queue depths and the raw in-flight entries
func (s *Server) QueueStatus(c *gin.Context) {
	ctx := c.Request.Context()

	depth, err := s.events.Len(ctx)
	if err != nil {
		httputil.ErrInternalServerError(c, err)
		return
	}

	inflight, err := s.events.InflightEntries(ctx)
	if err != nil {
		httputil.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"depth":            depth,
		"inflight_depth":   len(inflight),
		"inflight_entries": inflight,
	})
}

// RequeueEntry moves a stuck in-flight entry back onto the main queue
func (s *Server) RequeueEntry(c *gin.Context) {
	var req struct {
		Entry string `json:"entry" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.ErrBadRequest(c, err)
		return
	}

	if err := s.events.Requeue(c.Request.Context(), req.Entry); err != nil {
		httputil.ErrFromService(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requeued": true})
}

// RestartSubscriptions tears down the live websocket subscription and forces
// an immediate resubscribe from the durable registry.
func (s *Server) RestartSubscriptions(c *gin.Context) {
	s.ingestor.RestartSubscription()
	c.JSON(http.StatusOK, gin.H{"restarted": true})
}

// ListSubscriptions returns the durable subscription descriptors
func (s *Server) ListSubscriptions(c *gin.Context) {
	subs, err := s.registry.List(c.Request.Context())
	if err != nil {
		httputil.ErrInternalServerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}
