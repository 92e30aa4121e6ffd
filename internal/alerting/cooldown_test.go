package alerting

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cooldownContract checks the window semantics against any store.
func cooldownContract(t *testing.T, store CooldownStore) {
	ctx := context.Background()
	c := NewCooldown(store, 5*time.Minute)
	key := "exception:TypeError:" + uuid.NewString()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	ok, err := c.ShouldSend(ctx, key, t0)
	require.NoError(t, err)
	assert.True(t, ok, "first send")

	ok, err = c.ShouldSend(ctx, key, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "inside window")

	ok, err = c.ShouldSend(ctx, key, t0.Add(301*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "window elapsed")

	n, err := c.DrainSuppressedCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.DrainSuppressedCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "drain resets")

	other := "exception:SyntaxError:" + uuid.NewString()
	ok, err = c.ShouldSend(ctx, other, t0.Add(302*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "unrelated keys do not suppress each other")

	n, err = c.DrainSuppressedCount(ctx, "never-seen-"+uuid.NewString())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	releaseContract(t, c)
}

// releaseContract checks that a window given back after a failed delivery is
// reopened and keeps its suppressed count.
func releaseContract(t *testing.T, c *Cooldown) {
	ctx := context.Background()
	key := "exception:RangeError:" + uuid.NewString()
	t0 := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)

	ok, err := c.ShouldSend(ctx, key, t0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.ShouldSend(ctx, key, t0.Add(time.Second))
	require.NoError(t, err)
	require.False(t, ok)

	sentAt := t0.Add(400 * time.Second)
	ok, err = c.ShouldSend(ctx, key, sentAt)
	require.NoError(t, err)
	require.True(t, ok)
	n, err := c.DrainSuppressedCount(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, c.Release(ctx, key, sentAt, n))

	ok, err = c.ShouldSend(ctx, key, sentAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "released window reopens")
	n, err = c.DrainSuppressedCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "suppressed count survives release")

	// a stale release must not reopen a window another send now owns
	require.NoError(t, c.Release(ctx, key, sentAt, 0))
	ok, err = c.ShouldSend(ctx, key, sentAt.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCooldownStore(t *testing.T) {
	cooldownContract(t, NewMemoryCooldownStore())
}

func TestMemoryCooldownStore_Concurrent(t *testing.T) {
	c := NewCooldown(NewMemoryCooldownStore(), time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := c.ShouldSend(context.Background(), "k", now)
			if ok {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, sent)
	n, err := c.DrainSuppressedCount(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 49, n)
}

func TestRedisCooldownStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping redis test, set REDIS_ADDR to run")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	cooldownContract(t, NewRedisCooldownStore(client, "test:cooldown:"))
}
