package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string

	// Database configuration
	DatabaseURL string

	// Queue store configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Upstream provider configuration
	WSSURL     string // persistent streaming connection (live ingestion)
	HTTPRPCURL string // short-lived range queries (backfill)

	// Contracts whose logs are ingested
	ContractAddresses []string

	// Number of competing queue consumers
	WorkerCount int

	// Mail delivery
	SendGridAPIKey string
	FromEmail      string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	workerCount, err := strconv.Atoi(getEnvOrDefault("WORKER_COUNT", "4"))
	if err != nil || workerCount < 1 {
		return nil, fmt.Errorf("invalid WORKER_COUNT: %v", os.Getenv("WORKER_COUNT"))
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %v", os.Getenv("REDIS_DB"))
	}

	config := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgresql://localhost:5432/betmimi?sslmode=disable"),
		RedisAddr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		WSSURL:            getEnvOrDefault("WSS_URL", "wss://arb-sepolia.g.alchemy.com/v2/demo"),
		HTTPRPCURL:        getEnvOrDefault("HTTP_RPC_URL", "https://arb-sepolia.g.alchemy.com/v2/demo"),
		ContractAddresses: splitAddresses(getEnvOrDefault("CONTRACT_ADDRESSES", "")),
		WorkerCount:       workerCount,
		SendGridAPIKey:    os.Getenv("SENDGRID_API_KEY"),
		FromEmail:         getEnvOrDefault("FROM_EMAIL", "no-reply@betmimi.io"),
	}

	return config, nil
}

// splitAddresses parses a comma-separated list of contract addresses.
func splitAddresses(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	addresses := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			addresses = append(addresses, p)
		}
	}
	return addresses
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
