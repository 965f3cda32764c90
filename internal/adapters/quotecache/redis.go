package quotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fxCopyDesk/internal/domain"
)

// quoteKeyPrefix namespaces cache keys: copydesk:quote:{symbol}
const quoteKeyPrefix = "copydesk:quote"

// Redis is a shared TTL quote cache for multi-process deployments.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache and verifies connectivity.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func key(symbol string) string {
	return fmt.Sprintf("%s:%s", quoteKeyPrefix, symbol)
}

// GetQuote returns the cached quote, or nil, nil when absent or expired.
func (c *Redis) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	data, err := c.client.Get(ctx, key(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached quote for %s: %w", symbol, err)
	}
	var q domain.Quote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to decode cached quote for %s: %w", symbol, err)
	}
	return &q, nil
}

// SetQuote stores a quote under the cache's TTL.
func (c *Redis) SetQuote(ctx context.Context, quote *domain.Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to encode quote for %s: %w", quote.Symbol, err)
	}
	if err := c.client.Set(ctx, key(quote.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache quote for %s: %w", quote.Symbol, err)
	}
	return nil
}

// DeleteQuote evicts a symbol's cached quote.
func (c *Redis) DeleteQuote(ctx context.Context, symbol string) error {
	if err := c.client.Del(ctx, key(symbol)).Err(); err != nil {
		return fmt.Errorf("failed to evict cached quote for %s: %w", symbol, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
