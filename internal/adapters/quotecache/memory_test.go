package quotecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxCopyDesk/internal/domain"
)

func TestMemory_SetGetDelete(t *testing.T) {
	cache := NewMemory(time.Minute)
	ctx := context.Background()

	got, err := cache.GetQuote(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, got)

	quote := &domain.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002, Timestamp: time.Now()}
	require.NoError(t, cache.SetQuote(ctx, quote))

	got, err = cache.GetQuote(ctx, "EURUSD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1.1000, got.Bid)
	assert.Equal(t, 1.1002, got.Ask)

	require.NoError(t, cache.DeleteQuote(ctx, "EURUSD"))
	got, err = cache.GetQuote(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_Expiry(t *testing.T) {
	cache := NewMemory(20 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, cache.SetQuote(ctx, &domain.Quote{Symbol: "XAUUSD", Bid: 2300, Ask: 2300.5}))

	got, err := cache.GetQuote(ctx, "XAUUSD")
	require.NoError(t, err)
	require.NotNil(t, got)

	time.Sleep(30 * time.Millisecond)
	got, err = cache.GetQuote(ctx, "XAUUSD")
	require.NoError(t, err)
	assert.Nil(t, got)

	// A refresh after expiry serves again.
	require.NoError(t, cache.SetQuote(ctx, &domain.Quote{Symbol: "XAUUSD", Bid: 2301, Ask: 2301.5}))
	got, err = cache.GetQuote(ctx, "XAUUSD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2301.0, got.Bid)
}

func TestMemory_DefaultTTL(t *testing.T) {
	cache := NewMemory(0)
	assert.Equal(t, time.Second, cache.ttl)
}
