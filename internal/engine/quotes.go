package engine

import (
	"context"
	"fmt"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
)

// QuoteService wraps a pricing gateway with an injectable TTL cache.
// It implements ports.PricingGateway, so the lifecycle engine sees cache
// hits and gateway fetches through one interface.
type QuoteService struct {
	gateway ports.PricingGateway
	cache   ports.QuoteCache
	logger  ports.Logger
}

// NewQuoteService creates a cache-fronted quote provider. The cache may be
// nil, in which case every lookup goes to the gateway.
func NewQuoteService(gateway ports.PricingGateway, cache ports.QuoteCache, logger ports.Logger) (*QuoteService, error) {
	if gateway == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for quote service")
	}
	return &QuoteService{gateway: gateway, cache: cache, logger: logger}, nil
}

// Quote returns the cached quote for a symbol when fresh, otherwise fetches
// from the gateway and stores the result. Cache failures are logged and
// bypassed, never surfaced.
func (s *QuoteService) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if s.cache != nil {
		cached, err := s.cache.GetQuote(ctx, symbol)
		if err != nil {
			s.logger.Warn(ctx, "Quote cache read failed, falling through to gateway", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
		} else if cached.IsValid() {
			return cached, nil
		}
	}

	q, err := s.gateway.Quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if !q.IsValid() {
		return nil, fmt.Errorf("symbol %s: %w", symbol, ports.ErrQuoteUnavailable)
	}

	if s.cache != nil {
		if err := s.cache.SetQuote(ctx, q); err != nil {
			s.logger.Warn(ctx, "Quote cache write failed", map[string]interface{}{
				"symbol": symbol, "error": err.Error(),
			})
		}
	}
	return q, nil
}
