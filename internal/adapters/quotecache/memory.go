// Package quotecache provides the TTL caches behind ports.QuoteCache: an
// in-process map for single-instance deployments and a Redis store when
// several processes share one quote feed.
package quotecache

import (
	"context"
	"sync"
	"time"

	"fxCopyDesk/internal/domain"
)

type entry struct {
	quote     *domain.Quote
	expiresAt time.Time
}

// Memory is an in-process TTL quote cache.
type Memory struct {
	ttl time.Duration
	mu  sync.RWMutex
	m   map[string]entry
}

// NewMemory creates an in-process cache. A ttl <= 0 defaults to one second,
// matching the tick cadence.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Memory{ttl: ttl, m: make(map[string]entry)}
}

// GetQuote returns the cached quote, or nil, nil when absent or expired.
func (c *Memory) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	c.mu.RLock()
	e, ok := c.m[symbol]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Another writer may have refreshed the entry since the read.
		if cur, ok := c.m[symbol]; ok && time.Now().After(cur.expiresAt) {
			delete(c.m, symbol)
		}
		c.mu.Unlock()
		return nil, nil
	}
	return e.quote, nil
}

// SetQuote stores a quote under the cache's TTL.
func (c *Memory) SetQuote(ctx context.Context, quote *domain.Quote) error {
	c.mu.Lock()
	c.m[quote.Symbol] = entry{quote: quote, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// DeleteQuote evicts a symbol's cached quote.
func (c *Memory) DeleteQuote(ctx context.Context, symbol string) error {
	c.mu.Lock()
	delete(c.m, symbol)
	c.mu.Unlock()
	return nil
}
