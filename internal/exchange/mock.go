package exchange

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"leverage-core/internal/order"
	"leverage-core/internal/state"
	"leverage-core/pkg/errors"
)

// MockConfig tunes the simulated venue.
type MockConfig struct {
	Name           string
	InitialBalance float64       // USDT, default 10000
	Seed           int64         // 0 picks a time-based seed
	Latency        time.Duration // per order, default 100ms; negative disables
	FillRate       float64       // default 0.95
	Prices         map[string]float64
}

var defaultMockPrices = map[string]float64{
	"BTCUSDT": 50000,
	"ETHUSDT": 3000,
}

const mockFallbackPrice = 50000.0

// Mock is an in-memory venue with random-walk prices and a local position book.
type Mock struct {
	name     string
	latency  time.Duration
	fillRate float64

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	prices    map[string]float64
	book      *state.Account
	orders    map[string]*order.Order
}

// NewMock creates a simulated venue.
func NewMock(cfg MockConfig) *Mock {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.Latency == 0 {
		cfg.Latency = 100 * time.Millisecond
	}
	if cfg.FillRate <= 0 {
		cfg.FillRate = 0.95
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	prices := make(map[string]float64, len(defaultMockPrices)+len(cfg.Prices))
	for s, p := range defaultMockPrices {
		prices[s] = p
	}
	for s, p := range cfg.Prices {
		prices[s] = p
	}
	return &Mock{
		name:     cfg.Name,
		latency:  cfg.Latency,
		fillRate: cfg.FillRate,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		prices:   prices,
		book:     state.NewAccount(cfg.InitialBalance),
		orders:   make(map[string]*order.Order),
	}
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Connected reports whether Connect has been called.
func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Mock) checkConnected() error {
	if !m.connected {
		return errors.Newf(errors.ErrCodeExchangeUnavailable, "%s: not connected", m.name)
	}
	return nil
}

func (m *Mock) GetAccountBalance(ctx context.Context) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return nil, err
	}
	return []Balance{{
		Asset:  "USDT",
		Free:   m.book.AvailableBalance,
		Locked: m.book.UsedMargin,
		Total:  m.book.AvailableBalance + m.book.UsedMargin,
	}}, nil
}

func (m *Mock) GetPositions(ctx context.Context) ([]PositionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return nil, err
	}
	out := make([]PositionInfo, 0, len(m.book.Positions))
	for _, sym := range m.book.Symbols() {
		p := m.book.Positions[sym]
		out = append(out, PositionInfo{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.CurrentPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			Leverage:      p.Leverage,
		})
	}
	return out, nil
}

// GetMarketData moves the symbol's price by up to ±1% and returns a synthetic ticker.
func (m *Mock) GetMarketData(ctx context.Context, symbol string) (MarketData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return MarketData{}, err
	}

	price, ok := m.prices[symbol]
	if !ok {
		price = mockFallbackPrice
	}
	price *= 1 + m.uniform(-0.01, 0.01)
	m.prices[symbol] = price
	m.book.UpdatePrices(map[string]float64{symbol: price})

	return MarketData{
		Symbol:    symbol,
		Price:     price,
		Volume:    m.uniform(1000, 10000),
		Timestamp: time.Now(),
		Bid:       price * 0.999,
		Ask:       price * 1.001,
		High24h:   price * 1.02,
		Low24h:    price * 0.98,
		Change24h: m.uniform(-2, 2),
	}, nil
}

// PlaceOrder fills at the order price (or the current price for a zero price) with the
// configured probability after the simulated latency.
func (m *Mock) PlaceOrder(ctx context.Context, o *order.Order) (OrderResult, error) {
	if err := m.sleep(ctx); err != nil {
		return OrderResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return OrderResult{}, err
	}

	o.ExchangeOrderID = "MOCK_" + uuid.NewString()
	if m.rng.Float64() >= m.fillRate {
		_ = o.Fail()
		m.orders[o.ExchangeOrderID] = o.Clone()
		return OrderResult{ExchangeOrderID: o.ExchangeOrderID, Status: o.Status}, nil
	}

	price := o.Price
	if price <= 0 {
		price = m.currentPrice(o.Symbol)
	}
	if err := o.Fill(price); err != nil {
		return OrderResult{}, err
	}
	m.book.Apply(state.FillFromOrder(o))
	m.orders[o.ExchangeOrderID] = o.Clone()
	return OrderResult{
		ExchangeOrderID: o.ExchangeOrderID,
		Status:          o.Status,
		FilledQuantity:  o.FilledQuantity,
		FilledPrice:     o.FilledPrice,
	}, nil
}

func (m *Mock) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return false, err
	}
	o, ok := m.orders[exchangeOrderID]
	if !ok || o.Status.Terminal() {
		return false, nil
	}
	return o.Cancel() == nil, nil
}

func (m *Mock) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (OrderStatusReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkConnected(); err != nil {
		return OrderStatusReport{}, err
	}
	o, ok := m.orders[exchangeOrderID]
	if !ok {
		return OrderStatusReport{}, errors.Newf(errors.ErrCodeDataNotFound, "order %s not found", exchangeOrderID)
	}
	return OrderStatusReport{
		ExchangeOrderID: exchangeOrderID,
		Symbol:          o.Symbol,
		Status:          o.Status,
		FilledQuantity:  o.FilledQuantity,
		AvgPrice:        o.FilledPrice,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func (m *Mock) GetTradingFees(ctx context.Context, symbol string) (Fees, error) {
	return DefaultFees, nil
}

// SetPrice pins a symbol's current price.
func (m *Mock) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.book.UpdatePrices(map[string]float64{symbol: price})
	m.mu.Unlock()
}

func (m *Mock) currentPrice(symbol string) float64 {
	if p, ok := m.prices[symbol]; ok {
		return p
	}
	return mockFallbackPrice
}

func (m *Mock) uniform(lo, hi float64) float64 {
	return lo + m.rng.Float64()*(hi-lo)
}

func (m *Mock) sleep(ctx context.Context) error {
	if m.latency <= 0 {
		return nil
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
