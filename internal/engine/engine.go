// Package engine turns strategy signals into orders, executes them and keeps the
// account ledger up to date.
package engine

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/events"
	"leverage-core/internal/order"
	"leverage-core/internal/state"
	"leverage-core/internal/strategy"
	"leverage-core/pkg/errors"
)

// Limits are the engine's local exposure guards, checked before a signal becomes an order.
type Limits struct {
	MaxPositionSize  float64 `yaml:"max_position_size"`  // used margin / equity, and position notional / equity
	MaxLeverageUsage float64 `yaml:"max_leverage_usage"` // used margin / available balance
	MaxDailyLoss     float64 `yaml:"max_daily_loss"`     // equity drop since the start of the day
	MaxDrawdown      float64 `yaml:"max_drawdown"`       // unrealized loss / equity
}

// Config tunes order construction and execution.
type Config struct {
	InitialBalance    float64
	MaxSlippage       float64
	OrderTimeout      time.Duration
	MinOrderSize      float64
	PricePrecision    int32
	QuantityPrecision int32
	// DefaultSellRatio is the share of a long closed by a sell signal without a sell_ratio.
	DefaultSellRatio float64
	Limits           Limits
}

// DefaultConfig returns the standard execution settings.
func DefaultConfig() Config {
	return Config{
		InitialBalance:    10000,
		MaxSlippage:       0.001,
		OrderTimeout:      30 * time.Second,
		MinOrderSize:      0.0001,
		PricePrecision:    2,
		QuantityPrecision: 4,
		DefaultSellRatio:  0.3,
		Limits: Limits{
			MaxPositionSize:  0.5,
			MaxLeverageUsage: 0.8,
			MaxDailyLoss:     0.05,
			MaxDrawdown:      0.15,
		},
	}
}

// Statistics are running execution counters.
type Statistics struct {
	TotalOrders      int     `json:"total_orders"`
	SuccessfulOrders int     `json:"successful_orders"`
	FailedOrders     int     `json:"failed_orders"`
	TotalVolume      float64 `json:"total_volume"`
	TotalFees        float64 `json:"total_fees"`
}

// Option customises an Engine.
type Option func(*Engine)

// WithBus publishes position changes to bus.PositionUpdated.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the execution engine. Its state is guarded by mu so snapshots can be read
// concurrently with the control loop.
type Engine struct {
	mu       sync.RWMutex
	strategy strategy.Strategy
	executor Executor
	cfg      Config
	log      *zap.Logger
	bus      *events.Bus
	now      func() time.Time
	ids      *order.IDGenerator

	account   *state.Account
	orders    map[string]*order.Order
	orderSeq  []string
	stats     Statistics
	dayStart  time.Time
	dayEquity float64
}

// New creates an engine with a fresh account holding cfg.InitialBalance.
func New(strat strategy.Strategy, executor Executor, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	d := DefaultConfig()
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = d.InitialBalance
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = d.OrderTimeout
	}
	if cfg.MinOrderSize <= 0 {
		cfg.MinOrderSize = d.MinOrderSize
	}
	if cfg.DefaultSellRatio <= 0 {
		cfg.DefaultSellRatio = d.DefaultSellRatio
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		strategy: strat,
		executor: executor,
		cfg:      cfg,
		log:      log.Named("engine"),
		now:      time.Now,
		ids:      order.NewIDGenerator(),
		account:  state.NewAccount(cfg.InitialBalance),
		orders:   make(map[string]*order.Order),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dayStart = truncateDay(e.now())
	e.dayEquity = cfg.InitialBalance
	e.log.Info("execution engine initialised", zap.Float64("initial_balance", cfg.InitialBalance))
	return e
}

// SetStrategy swaps the strategy used for sizing, leverage and exits.
func (e *Engine) SetStrategy(s strategy.Strategy) {
	e.mu.Lock()
	e.strategy = s
	e.mu.Unlock()
}

// Strategy returns the current strategy.
func (e *Engine) Strategy() strategy.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// NextOrderID returns a fresh ORD_ identifier.
func (e *Engine) NextOrderID() string {
	return e.ids.Next()
}

// Account returns a snapshot of the ledger.
func (e *Engine) Account() *state.Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account.Clone()
}

// Statistics returns the execution counters.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Order returns a copy of the recorded order with id.
func (e *Engine) Order(id string) (*order.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Orders returns copies of all recorded orders in recording order.
func (e *Engine) Orders() []*order.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*order.Order, 0, len(e.orderSeq))
	for _, id := range e.orderSeq {
		out = append(out, e.orders[id].Clone())
	}
	return out
}

// PendingOrders returns copies of recorded orders that can still fill, partially filled
// ones included.
func (e *Engine) PendingOrders() []*order.Order {
	return e.openOrders(func(*order.Order) bool { return true })
}

// VenueOrders returns copies of open orders that were forwarded to a venue.
func (e *Engine) VenueOrders() []*order.Order {
	return e.openOrders(func(o *order.Order) bool { return o.ExchangeOrderID != "" })
}

// ExpiredVenueOrders returns copies of open venue orders older than the order timeout.
// They must be cancelled at the venue before CancelOrder closes them locally.
func (e *Engine) ExpiredVenueOrders(now time.Time) []*order.Order {
	return e.openOrders(func(o *order.Order) bool {
		return o.ExchangeOrderID != "" && now.Sub(o.CreatedAt) > e.cfg.OrderTimeout
	})
}

func (e *Engine) openOrders(keep func(*order.Order) bool) []*order.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*order.Order
	for _, id := range e.orderSeq {
		if o := e.orders[id]; o.Status.Open() && keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// CancelOrder marks the recorded order id cancelled. Terminal orders cannot be cancelled.
func (e *Engine) CancelOrder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return errors.Newf(errors.ErrCodeDataNotFound, "order %s not found", id)
	}
	return o.Cancel()
}

// UpdateMarketPrices marks open positions to the given prices.
func (e *Engine) UpdateMarketPrices(prices map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.UpdatePrices(prices)
	e.rollDay()
}

// CleanupExpiredOrders cancels open local orders older than the order timeout and returns
// their IDs. Orders live at a venue are left to ExpiredVenueOrders. Calling it again
// returns nothing new.
func (e *Engine) CleanupExpiredOrders(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []string
	for _, id := range e.orderSeq {
		o := e.orders[id]
		if !o.Status.Open() || o.ExchangeOrderID != "" || now.Sub(o.CreatedAt) <= e.cfg.OrderTimeout {
			continue
		}
		if err := o.Cancel(); err == nil {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		e.log.Info("expired orders cancelled", zap.Int("count", len(expired)), zap.Strings("ids", expired))
	}
	return expired
}

// rollDay resets the daily-loss reference at the first update of a new day. Caller holds mu.
func (e *Engine) rollDay() {
	today := truncateDay(e.now())
	if today.After(e.dayStart) {
		e.dayStart = today
		e.dayEquity = e.account.TotalEquity
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// record stores o in the order table. Caller holds mu.
// record keeps a copy so the caller's order is not mutated by later venue updates.
func (e *Engine) record(o *order.Order) {
	if _, seen := e.orders[o.ID]; !seen {
		e.orderSeq = append(e.orderSeq, o.ID)
	}
	e.orders[o.ID] = o.Clone()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
