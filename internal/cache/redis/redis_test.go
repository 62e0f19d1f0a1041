package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/polywatch/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPrefix(t *testing.T) {
	c := NewFromRedis(nil, "polywatch:")
	assert.Equal(t, "polywatch:ratelimit:data-api.polymarket.com", c.key("ratelimit", "data-api.polymarket.com"))
	assert.Equal(t, "whale_trades", NewFromRedis(nil, "").key("whale_trades"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("alerts:*"))
	assert.False(t, hasPattern("whale_trades"))
}

// testClient connects to POLYWATCH_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("POLYWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYWATCH_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "polywatch-test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSignalBusRoundTrip(t *testing.T) {
	c := testClient(t)
	bus := NewSignalBus(c, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := bus.Subscribe(ctx, "whale_trades")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "whale_trades", []byte(`{"size":"1"}`)))

	select {
	case msg := <-sub:
		assert.JSONEq(t, `{"size":"1"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	require.NoError(t, bus.StreamAppend(ctx, "stream:whale_trades", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "stream:whale_trades", []byte("b")))
	msgs, err := bus.StreamRead(ctx, "stream:whale_trades", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, "stream:whale_trades", msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRateLimiterWindow(t *testing.T) {
	c := testClient(t)
	rl := NewRateLimiter(c, 2, 200*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := rl.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, 200*time.Millisecond)

	start := time.Now()
	require.NoError(t, rl.Wait(ctx, "k"))
	assert.Greater(t, time.Since(start), 50*time.Millisecond)
}

func TestLockManager(t *testing.T) {
	c := testClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	unlock2()
}

func TestAssetIDCache(t *testing.T) {
	c := testClient(t)
	cache := NewAssetIDCache(c)
	ctx := context.Background()

	_, err := cache.GetAssetIDs(ctx, "election")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, cache.SetAssetIDs(ctx, "election", []string{"1", "2"}, time.Minute))
	ids, err := cache.GetAssetIDs(ctx, "election")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}
