package cachestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/fatracker/core"
)

// testCache runs the behaviour every core.Cache must have.
func testCache(t *testing.T, c core.Cache) {
	ctx := context.Background()
	prefix := uuid.NewString() + ":"

	t.Run("get missing", func(t *testing.T) {
		_, err := c.Get(ctx, prefix+"missing")
		assert.Equal(t, core.ErrCacheMiss, err)
	})

	t.Run("set get delete", func(t *testing.T) {
		key := prefix + "k1"
		require.NoError(t, c.Set(ctx, key, []byte("v1"), time.Minute))

		got, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, c.Delete(ctx, key))
		_, err = c.Get(ctx, key)
		assert.Equal(t, core.ErrCacheMiss, err)

		// deleting twice is fine
		assert.NoError(t, c.Delete(ctx, key))
	})

	t.Run("expires", func(t *testing.T) {
		key := prefix + "k2"
		require.NoError(t, c.Set(ctx, key, []byte("v2"), 50*time.Millisecond))
		assert.Eventually(t, func() bool {
			_, err := c.Get(ctx, key)
			return err == core.ErrCacheMiss
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("re-set restarts ttl", func(t *testing.T) {
		key := prefix + "k3"
		require.NoError(t, c.Set(ctx, key, []byte("old"), 100*time.Millisecond))
		require.NoError(t, c.Set(ctx, key, []byte("new"), time.Minute))

		// well past the first TTL
		time.Sleep(300 * time.Millisecond)
		got, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})
}

func TestMemory(t *testing.T) {
	m := NewMemory(4)
	defer m.Close()
	testCache(t, m)
}

func TestMemory_valueIsCopied(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()
	ctx := context.Background()

	v := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", v, time.Minute))
	v[0] = 'z'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'z'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_Close(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Set(ctx, fmt.Sprint(i), []byte("v"), time.Hour))
	}
	assert.Equal(t, 10, m.Len())

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
}

func TestMemory_concurrentResets(t *testing.T) {
	m := NewMemory(8)
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%10)
				_ = m.Set(ctx, key, []byte(fmt.Sprint(g)), time.Millisecond*time.Duration(1+i%3))
				_, _ = m.Get(ctx, key)
				if i%7 == 0 {
					_ = m.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	// every short-lived entry eventually goes away
	assert.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// and a long-lived one set after the storm survives
	require.NoError(t, m.Set(ctx, "k1", []byte("last"), time.Minute))
	time.Sleep(20 * time.Millisecond)
	got, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), got)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client, err := OpenRedis(context.Background(), core.RedisConfig{Addr: addr})
	require.NoError(t, err)
	r := NewRedis(client)
	defer r.Close()

	testCache(t, r)
}
