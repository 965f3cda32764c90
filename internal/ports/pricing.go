package ports

import (
	"context"

	"fxCopyDesk/internal/domain"
)

// PricingGateway supplies current two-sided quotes per symbol.
// The gateway is a boundary service: it enforces its own timeouts.
type PricingGateway interface {
	// Quote retrieves the current bid/ask for a symbol.
	// Returns ErrQuoteUnavailable (wrapped) when the market has no data.
	Quote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// QuoteCache is an explicitly owned, injectable TTL cache for quotes.
type QuoteCache interface {
	// GetQuote retrieves a cached quote. Returns nil, nil on a miss or when
	// the cached value has expired.
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	// SetQuote stores a quote under the cache's TTL.
	SetQuote(ctx context.Context, quote *domain.Quote) error
	// DeleteQuote evicts a symbol's cached quote.
	DeleteQuote(ctx context.Context, symbol string) error
}
