package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterTracksWeightPerWindow(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, 1000, nil)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	rl.windowStart = now

	rl.UpdateFromHeader("40")
	used, limit, pct := rl.Usage()
	assert.Equal(t, 40, used)
	assert.Equal(t, 100, limit)
	assert.InDelta(t, 40.0, pct, 1e-9)
	assert.Zero(t, rl.backoff())

	rl.UpdateFromHeader("not-a-number")
	used, _, _ = rl.Usage()
	assert.Equal(t, 40, used)

	rl.UpdateFromHeader("95")
	now = now.Add(20 * time.Second)
	assert.Equal(t, 40*time.Second, rl.backoff())

	now = now.Add(time.Minute)
	used, _, _ = rl.Usage()
	assert.Zero(t, used)
	assert.Zero(t, rl.backoff())
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(100, time.Hour, 1000, nil)
	rl.UpdateFromHeader("99")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestTimeSyncAppliesOffset(t *testing.T) {
	ts := NewTimeSync(func(context.Context) (int64, error) {
		return time.Now().Add(5 * time.Second).UnixMilli(), nil
	}, nil)
	assert.False(t, ts.Synced())

	require.NoError(t, ts.Sync(context.Background()))
	assert.True(t, ts.Synced())
	assert.InDelta(t, 5000, ts.Offset(), 50)
	assert.InDelta(t, time.Now().UnixMilli()+5000, ts.Now(), 50)
}

func TestTimeSyncKeepsOffsetOnError(t *testing.T) {
	boom := errors.New("unreachable")
	ts := NewTimeSync(func(context.Context) (int64, error) { return 0, boom }, nil)
	assert.ErrorIs(t, ts.Sync(context.Background()), boom)
	assert.False(t, ts.Synced())
	assert.Zero(t, ts.Offset())
}
