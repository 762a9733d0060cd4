package respcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/shared/clock"
)

func TestCache_HitWithinTTL(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk)

	c.Put("user:1:accounts", []string{"acc_1"})
	clk.Advance(59 * time.Second)

	v, ok := c.Get("user:1:accounts", time.Minute)
	require.True(t, ok)
	assert.Equal(t, []string{"acc_1"}, v)
}

func TestCache_ExpiredEntryIsEvicted(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk)

	c.Put("k", 1)
	clk.Advance(time.Minute)

	_, ok := c.Get("k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTLIsPerRead(t *testing.T) {
	clk := clock.NewFake(time.Now())
	c := New(clk)

	c.Put("k", "v")
	clk.Advance(2 * time.Minute)

	_, ok := c.Get("k", 5*time.Minute)
	assert.True(t, ok, "a longer TTL class should still hit")

	_, ok = c.Get("k", time.Minute)
	assert.False(t, ok, "a shorter TTL class should miss and evict")

	_, ok = c.Get("k", 5*time.Minute)
	assert.False(t, ok, "entry was evicted by the previous read")
}

func TestCache_InvalidateBySubstring(t *testing.T) {
	c := New(clock.NewFake(time.Now()))
	c.Put("user:1:accounts:fp", 1)
	c.Put("user:1:balances:fp:acc_a", 2)
	c.Put("user:11:accounts:fp", 3)
	c.Put("user:2:balances:fp:acc_b", 4)

	removed := c.Invalidate("user:1:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("user:11:accounts:fp", time.Hour)
	assert.True(t, ok, "user 11 must not be purged by user 1's prefix")

	removed = c.Invalidate(":acc_b")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(clock.System{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("user:%d:accounts", i%5)
			c.Put(key, i)
			c.Get(key, time.Minute)
			if i%10 == 0 {
				c.Invalidate("user:0:")
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 5)
}
