package main

import (
	"context"
	"flag"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/clients/evm"
	"github.com/FezaSmartContracts/betmimi/config"
	"github.com/FezaSmartContracts/betmimi/db"
	"github.com/FezaSmartContracts/betmimi/handlers"
	"github.com/FezaSmartContracts/betmimi/http"
	"github.com/FezaSmartContracts/betmimi/logging"
	"github.com/FezaSmartContracts/betmimi/mailbox"
	"github.com/FezaSmartContracts/betmimi/queue"
	"github.com/FezaSmartContracts/betmimi/services"
)

const (
	shutdownTimeout = 30 * time.Second
	mailboxInterval = 30 * time.Second
)

func main() {
	flags := parseFlags()
	log := logging.New(os.Stdout, flags.LogLevel, flags.LogJSON)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()

	// Initialize database
	log.Info().Msg("Initializing database connection")
	database, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	defer func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	log.Info().Msg("Database connection established successfully")

	// Initialize the queue store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}

	events := queue.New(rdb, queue.EventsQueue, log)
	registry := queue.NewRegistry(rdb, log)

	// Start the mailbox manager
	var sender mailbox.Sender
	if cfg.SendGridAPIKey != "" {
		sender = mailbox.NewSendGridSender(cfg.SendGridAPIKey, cfg.FromEmail)
	} else {
		log.Warn().Msg("SENDGRID_API_KEY not set, notifications will be logged and dropped")
	}

	mailboxManager := mailbox.NewManager(rdb, sender, log)
	mailboxManager.Start(mailboxInterval)

	// Build the dispatcher and register all event handlers
	dispatcher, err := services.NewDispatcher(config.USDTv1EventsABI, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create dispatcher")
	}

	eventHandlers, err := services.NewEventHandlers(database, mailboxManager, config.USDTv1EventsABI, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event handlers")
	}

	if err := eventHandlers.RegisterAll(dispatcher); err != nil {
		log.Fatal().Err(err).Msg("Failed to register event handlers")
	}

	// Initialize the Ethereum websocket client
	wsClient, err := evm.NewWebsocketClient(ctx, cfg.WSSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Ethereum client")
	}

	// Start the live ingestor
	addresses := make([]common.Address, 0, len(cfg.ContractAddresses))
	for _, addr := range cfg.ContractAddresses {
		addresses = append(addresses, common.HexToAddress(addr))
	}

	ingestor := services.NewLiveIngestor(
		wsClient,
		database,
		registry,
		events,
		mailboxManager,
		addresses,
		dispatcher.Topics(),
		log,
	)
	if err := ingestor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start live ingestor")
	}

	// Start the queue consumers
	pool := services.NewWorkerPool(events, dispatcher, cfg.WorkerCount, log)
	pool.Start(ctx)
	log.Info().Int("workers", cfg.WorkerCount).Msg("Started worker pool")

	// Backfill fetcher dials its own short-lived HTTP client per request
	backfill := services.NewBackfillFetcher(cfg.HTTPRPCURL, events, log)

	// Create metrics service and start the updater
	metricsService := services.NewMetricsService(ingestor, pool, events, log)
	metricsService.StartMetricsUpdater(ctx)
	log.Info().Msg("Started Prometheus metrics service")

	// Create and start the server
	server := handlers.NewServer(ingestor, pool, backfill, metricsService, events, registry, log)

	serverShutdown := http.StartAsync(&nethttp.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: server.Router(os.Getenv("ALLOWED_ORIGINS")),
	}, log)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("Shutdown signal received, cleaning up services...")

	// Shutdown HTTP server first so no new backfills or requeues arrive
	serverShutdown(ctx)

	var shutdownErrors []error

	// Stop the ingestor so nothing new is pushed onto the queue
	log.Info().Msg("Shutting down live ingestor...")
	if err := ingestor.Shutdown(shutdownTimeout); err != nil {
		shutdownErrors = append(shutdownErrors, errors.Wrap(err, "failed to shutdown live ingestor"))
	}

	// Then drain the workers
	log.Info().Msg("Shutting down worker pool...")
	if err := pool.Shutdown(); err != nil {
		shutdownErrors = append(shutdownErrors, errors.Wrap(err, "failed to shutdown worker pool"))
	}

	mailboxManager.Stop()

	if err := rdb.Close(); err != nil {
		shutdownErrors = append(shutdownErrors, errors.Wrap(err, "failed to close redis client"))
	}

	wsClient.Close()

	if len(shutdownErrors) > 0 {
		log.Error().Int("errors_count", len(shutdownErrors)).Msg("Encountered errors during shutdown")
		for _, err := range shutdownErrors {
			log.Error().Err(err).Msg("Error during shutdown")
		}
		return
	}

	log.Info().Msg("All services shut down successfully")
}

type flagSet struct {
	LogJSON  bool
	LogLevel zerolog.Level
}

func parseFlags() flagSet {
	var (
		logJSON        bool
		logLevel       string
		logLevelParsed zerolog.Level
	)

	flag.BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	flag.StringVar(&logLevel, "log-level", "info", "Set log level (debug, info, warn, error)")

	flag.Parse()

	switch logLevel {
	case "debug":
		logLevelParsed = zerolog.DebugLevel
	case "warn":
		logLevelParsed = zerolog.WarnLevel
	case "error":
		logLevelParsed = zerolog.ErrorLevel
	default:
		logLevelParsed = zerolog.InfoLevel
	}

	return flagSet{
		LogJSON:  logJSON,
		LogLevel: logLevelParsed,
	}
}
