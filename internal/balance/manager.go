// Package balance keeps a periodically refreshed view of venue balances so read paths
// never wait on an exchange round trip.
package balance

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/exchange"
	"leverage-core/pkg/cache"
)

// Source reports balances per exchange name.
type Source interface {
	AllBalances(ctx context.Context) map[string][]exchange.Balance
}

// Manager caches the balances of every configured exchange.
type Manager struct {
	source       Source
	cache        *cache.Sharded[[]exchange.Balance]
	syncInterval time.Duration
	log          *zap.Logger
}

// Snapshot is the cached state of one exchange.
type Snapshot struct {
	Exchange string             `json:"exchange"`
	Balances []exchange.Balance `json:"balances"`
	Age      time.Duration      `json:"age"`
}

// NewManager creates a balance manager polling source every syncInterval.
func NewManager(source Source, syncInterval time.Duration, log *zap.Logger) *Manager {
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		source:       source,
		cache:        cache.New[[]exchange.Balance](),
		syncInterval: syncInterval,
		log:          log.Named("balance"),
	}
}

// Start syncs once and then keeps syncing on a ticker until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.Sync(ctx)

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sync(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync fetches the latest balances. Exchanges that returned nothing keep their previous
// cached value.
func (m *Manager) Sync(ctx context.Context) {
	if m.source == nil {
		return
	}
	for name, rows := range m.source.AllBalances(ctx) {
		if len(rows) == 0 {
			continue
		}
		m.cache.Set(name, rows)
		m.log.Debug("balance synced", zap.String("exchange", name), zap.Int("assets", len(rows)))
	}
}

// Get returns the cached balances of one exchange.
func (m *Manager) Get(name string) (Snapshot, bool) {
	rows, age, ok := m.cache.GetWithAge(name)
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{Exchange: name, Balances: rows, Age: age}, true
}

// All returns every cached exchange, sorted by name.
func (m *Manager) All() []Snapshot {
	all := m.cache.All()
	out := make([]Snapshot, 0, len(all))
	for name := range all {
		if s, ok := m.Get(name); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// Total sums the total holding of asset across every exchange.
func (m *Manager) Total(asset string) float64 {
	var sum float64
	for _, rows := range m.cache.All() {
		for _, b := range rows {
			if b.Asset == asset {
				sum += b.Total
			}
		}
	}
	return sum
}
