// Package binanceclient implements the pricing gateway on the Binance spot
// API. Crypto symbols are quoted live from the exchange's book ticker; the
// wiring layers a cache in front of this client so one tick never hits the
// API more than once per symbol.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// Client implements ports.PricingGateway using the go-binance library.
type Client struct {
	api    *binance.Client
	logger ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance pricing client. Book ticker reads are public, so
// empty keys are allowed.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	api := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		api.BaseURL = baseURLTestnet
	} else {
		api.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance pricing client configured", map[string]interface{}{
		"baseURL": api.BaseURL, "testnet": cfg.UseTestnet,
	})

	return &Client{api: api, logger: cfg.Logger}, nil
}

// Quote fetches the current best bid/ask for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	op := "Quote"
	tickers, err := c.api.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, symbol)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%s: no book ticker for symbol %s: %w", op, symbol, ports.ErrQuoteUnavailable)
	}

	t := tickers[0]
	bid, err := strconv.ParseFloat(t.BidPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse bid price %q for %s: %w", op, t.BidPrice, symbol, err)
	}
	ask, err := strconv.ParseFloat(t.AskPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse ask price %q for %s: %w", op, t.AskPrice, symbol, err)
	}

	q := &domain.Quote{Symbol: symbol, Bid: bid, Ask: ask, Timestamp: time.Now().UTC()}
	if !q.IsValid() {
		return nil, fmt.Errorf("%s: invalid quote for symbol %s (bid=%f ask=%f): %w", op, symbol, bid, ask, ports.ErrQuoteUnavailable)
	}
	return q, nil
}

// handleError translates Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation, symbol string) error {
	fields := map[string]interface{}{"operation": operation, "symbol": symbol}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrTimeout
		case -1121: // Invalid symbol
			mappedErr = ports.ErrQuoteUnavailable
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, operation+": Binance API error", fields)
		return fmt.Errorf("%s failed for %s: %w: %w", operation, symbol, mappedErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out for %s: %w: %w", operation, symbol, ports.ErrTimeout, err)
	}
	c.logger.Error(ctx, err, operation+": Request failed", fields)
	return fmt.Errorf("%s failed for %s: %w: %w", operation, symbol, ports.ErrQuoteUnavailable, err)
}
