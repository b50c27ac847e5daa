package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetDelete(t *testing.T) {
	c := New[float64]()
	c.Set("BTCUSDT", 50000)

	v, ok := c.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 50000.0, v)

	c.Delete("BTCUSDT")
	_, ok = c.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestAgeAndCleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[string]()
	c.now = func() time.Time { return now }

	c.Set("old", "a")
	now = now.Add(time.Minute)
	c.Set("new", "b")

	_, age, ok := c.GetWithAge("old")
	require.True(t, ok)
	assert.Equal(t, time.Minute, age)
	assert.Equal(t, time.Minute, c.Stats().OldestAge)

	assert.Equal(t, 1, c.Cleanup(30*time.Second))
	assert.Equal(t, map[string]string{"new": "b"}, c.All())
}

func TestConcurrentWrites(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Set(fmt.Sprintf("k%d-%d", i, j), j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, c.Len())
	sum := 0
	for _, n := range c.Stats().ShardCounts {
		sum += n
	}
	assert.Equal(t, 400, sum)
}
