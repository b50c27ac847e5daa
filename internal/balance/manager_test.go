package balance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/internal/exchange"
)

type stubSource struct {
	calls atomic.Int32
	rows  map[string][]exchange.Balance
}

func (s *stubSource) AllBalances(context.Context) map[string][]exchange.Balance {
	s.calls.Add(1)
	return s.rows
}

func TestSyncCachesPerExchange(t *testing.T) {
	src := &stubSource{rows: map[string][]exchange.Balance{
		"primary": {{Asset: "USDT", Free: 900, Locked: 100, Total: 1000}},
		"backup":  {{Asset: "USDT", Total: 500}, {Asset: "BTC", Total: 0.1}},
		"down":    {},
	}}
	m := NewManager(src, time.Minute, nil)
	m.Sync(context.Background())

	all := m.All()
	require.Len(t, all, 2)
	assert.Equal(t, "backup", all[0].Exchange)
	assert.Equal(t, "primary", all[1].Exchange)
	assert.Equal(t, 1500.0, m.Total("USDT"))

	_, ok := m.Get("down")
	assert.False(t, ok)
}

func TestSyncKeepsPreviousValueOnEmptyResult(t *testing.T) {
	src := &stubSource{rows: map[string][]exchange.Balance{"primary": {{Asset: "USDT", Total: 1000}}}}
	m := NewManager(src, time.Minute, nil)
	m.Sync(context.Background())

	src.rows = map[string][]exchange.Balance{"primary": {}}
	m.Sync(context.Background())

	snap, ok := m.Get("primary")
	require.True(t, ok)
	assert.Equal(t, 1000.0, snap.Balances[0].Total)
}

func TestStartPollsUntilCancelled(t *testing.T) {
	src := &stubSource{rows: map[string][]exchange.Balance{"primary": {{Asset: "USDT", Total: 1}}}}
	m := NewManager(src, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
}
