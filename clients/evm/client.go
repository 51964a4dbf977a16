package evm

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/FezaSmartContracts/betmimi/logging"
)

const (
	dialAttempts     = 3
	dialRetryDelay   = 2 * time.Second
	healthTimeout    = 5 * time.Second
	subVerifyTimeout = 15 * time.Second
)

// NewWebsocketClient dials a websocket provider endpoint and verifies that
// the connection actually supports log subscriptions before returning it.
// Transient dial failures are retried a few times so a node that is still
// coming up does not take the whole process down with it.
func NewWebsocketClient(ctx context.Context, rawURL string, logger zerolog.Logger) (*ethclient.Client, error) {
	logger = logger.With().Str(logging.FieldModule, "evm_client").Logger()

	if !isWebSocketURL(rawURL) {
		return nil, errors.Errorf("live ingestion requires a ws:// or wss:// endpoint, got %q", sanitizeURL(rawURL))
	}

	var (
		client  *ethclient.Client
		lastErr error
	)

	for attempt := 1; attempt <= dialAttempts; attempt++ {
		rpcClient, err := rpc.DialWebsocket(ctx, rawURL, "")
		if err != nil {
			lastErr = errors.Wrap(err, "failed to create websocket RPC client")
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Msg("Websocket dial failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dialRetryDelay):
			}
			continue
		}

		client = ethclient.NewClient(rpcClient)

		if err := verifySubscriptionSupport(ctx, client, logger); err != nil {
			client.Close()
			client = nil
			lastErr = errors.Wrap(err, "failed to verify websocket subscription")
			continue
		}

		break
	}

	if client == nil {
		return nil, lastErr
	}

	bn, err := blockNumber(ctx, client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to get block number")
	}

	logger.Info().
		Uint64(logging.FieldBlock, bn).
		Msg("Successfully created websocket client")

	return client, nil
}

func blockNumber(ctx context.Context, client *ethclient.Client) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	return client.BlockNumber(ctx)
}

// verifySubscriptionSupport attempts a new-heads subscription; only genuine
// websocket connections accept it, so this catches misconfigured endpoints
// that would otherwise fail much later inside the ingestor.
func verifySubscriptionSupport(ctx context.Context, client *ethclient.Client, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, subVerifyTimeout)
	defer cancel()

	headers := make(chan *types.Header)

	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return errors.Wrap(err, "subscription test failed")
	}
	defer sub.Unsubscribe()

	select {
	case header := <-headers:
		logger.Debug().
			Uint64(logging.FieldBlock, header.Number.Uint64()).
			Msg("Received new block header")
		return nil
	case err := <-sub.Err():
		return errors.Wrap(err, "subscription error")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isWebSocketURL(url string) bool {
	return strings.HasPrefix(url, "wss://") || strings.HasPrefix(url, "ws://")
}

// sanitizeURL strips everything after the host so API keys embedded in
// provider URLs never end up in logs or error messages.
func sanitizeURL(rawURL string) string {
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		rest := rawURL[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return rawURL[:idx+3] + rest[:slash] + "/..."
		}
	}
	return rawURL
}
