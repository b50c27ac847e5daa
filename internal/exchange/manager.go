package exchange

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leverage-core/pkg/errors"
)

// maxParallelQueries bounds concurrent venue calls during fan-out.
const maxParallelQueries = 4

// Manager holds named exchanges and a default one.
type Manager struct {
	mu          sync.RWMutex
	exchanges   map[string]Exchange
	defaultName string
	log         *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{exchanges: make(map[string]Exchange), log: log.Named("exchanges")}
}

// Add registers ex under name. The first exchange added becomes the default unless a later
// one is added with isDefault.
func (m *Manager) Add(name string, ex Exchange, isDefault bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges[name] = ex
	if isDefault || m.defaultName == "" {
		m.defaultName = name
	}
}

// Get returns the exchange registered under name.
func (m *Manager) Get(name string) (Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.exchanges[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeExchangeNotFound, "exchange %q not registered", name)
	}
	return ex, nil
}

// Default returns the default exchange.
func (m *Manager) Default() (Exchange, error) {
	m.mu.RLock()
	name := m.defaultName
	m.mu.RUnlock()
	if name == "" {
		return nil, errors.New(errors.ErrCodeExchangeNotFound, "no exchange registered")
	}
	return m.Get(name)
}

// Names lists registered exchanges in name order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.exchanges))
	for n := range m.exchanges {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) snapshot() map[string]Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Exchange, len(m.exchanges))
	for n, ex := range m.exchanges {
		out[n] = ex
	}
	return out
}

// ConnectAll connects every exchange, logging failures and carrying on. It returns an
// error only when every exchange failed.
func (m *Manager) ConnectAll(ctx context.Context) error {
	all := m.snapshot()
	var errs []error
	for name, ex := range all {
		if err := ex.Connect(ctx); err != nil {
			m.log.Error("connect failed", zap.String("exchange", name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.log.Info("exchange connected", zap.String("exchange", name))
	}
	if len(all) > 0 && len(errs) == len(all) {
		return errors.Wrap(errors.ErrCodeExchangeUnavailable, "no exchange connected", errors.Join(errs...))
	}
	return nil
}

// DisconnectAll disconnects every exchange, logging failures.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for name, ex := range m.snapshot() {
		if err := ex.Disconnect(ctx); err != nil {
			m.log.Error("disconnect failed", zap.String("exchange", name), zap.Error(err))
		}
	}
}

// AllBalances queries every exchange in parallel. A failing exchange maps to an empty list.
func (m *Manager) AllBalances(ctx context.Context) map[string][]Balance {
	return fanOut(ctx, m, func(ctx context.Context, ex Exchange) ([]Balance, error) {
		return ex.GetAccountBalance(ctx)
	})
}

// AllPositions queries every exchange in parallel. A failing exchange maps to an empty list.
func (m *Manager) AllPositions(ctx context.Context) map[string][]PositionInfo {
	return fanOut(ctx, m, func(ctx context.Context, ex Exchange) ([]PositionInfo, error) {
		return ex.GetPositions(ctx)
	})
}

func fanOut[T any](ctx context.Context, m *Manager, call func(context.Context, Exchange) ([]T, error)) map[string][]T {
	all := m.snapshot()
	out := make(map[string][]T, len(all))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)
	for name, ex := range all {
		g.Go(func() error {
			rows, err := call(gctx, ex)
			if err != nil {
				m.log.Warn("exchange query failed", zap.String("exchange", name), zap.Error(err))
				rows = []T{}
			}
			mu.Lock()
			out[name] = rows
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
