package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/exchange"
	"leverage-core/internal/order"
	"leverage-core/pkg/errors"
)

// Execution is the outcome of sending an order to a venue.
type Execution struct {
	Status          order.Status
	Quantity        float64
	Price           float64
	Fee             float64
	ExchangeOrderID string
}

// Executor sends orders somewhere they can be filled.
type Executor interface {
	Execute(ctx context.Context, o *order.Order) (Execution, error)
}

// SimConfig tunes the SimulatedExecutor.
type SimConfig struct {
	Latency     time.Duration // default 100ms; negative disables
	SuccessRate float64       // default 0.95
	FeeRate     float64       // taker rate charged on filled notional, default 0.0004
	Seed        int64
}

// SimulatedExecutor fills at the order price after a fixed latency with a fixed success rate.
type SimulatedExecutor struct {
	cfg SimConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedExecutor creates a simulated executor.
func NewSimulatedExecutor(cfg SimConfig) *SimulatedExecutor {
	if cfg.Latency == 0 {
		cfg.Latency = 100 * time.Millisecond
	}
	if cfg.SuccessRate <= 0 {
		cfg.SuccessRate = 0.95
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = exchange.DefaultFees.Taker
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &SimulatedExecutor{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (s *SimulatedExecutor) Execute(ctx context.Context, o *order.Order) (Execution, error) {
	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return Execution{}, ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll >= s.cfg.SuccessRate {
		return Execution{Status: order.StatusFailed}, nil
	}
	return Execution{
		Status:   order.StatusFilled,
		Quantity: o.Quantity,
		Price:    o.Price,
		Fee:      o.Quantity * o.Price * s.cfg.FeeRate,
	}, nil
}

// ExchangeExecutor forwards orders to a venue.
type ExchangeExecutor struct {
	ex  exchange.Exchange
	log *zap.Logger

	mu   sync.Mutex
	fees map[string]exchange.Fees
}

// NewExchangeExecutor creates an executor that places orders on ex.
func NewExchangeExecutor(ex exchange.Exchange, log *zap.Logger) *ExchangeExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExchangeExecutor{ex: ex, log: log.Named("executor"), fees: make(map[string]exchange.Fees)}
}

func (x *ExchangeExecutor) Execute(ctx context.Context, o *order.Order) (Execution, error) {
	res, err := x.ex.PlaceOrder(ctx, o)
	if err != nil {
		return Execution{}, errors.Wrapf(errors.ErrCodeOrderFailed, err, "%s rejected %s", x.ex.Name(), o.ID)
	}
	exec := Execution{
		Status:          res.Status,
		Quantity:        res.FilledQuantity,
		Price:           res.FilledPrice,
		ExchangeOrderID: res.ExchangeOrderID,
	}
	if exec.Quantity > 0 {
		exec.Fee = exec.Quantity * exec.Price * x.takerFee(ctx, o.Symbol)
	}
	return exec, nil
}

func (x *ExchangeExecutor) takerFee(ctx context.Context, symbol string) float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	if f, ok := x.fees[symbol]; ok {
		return f.Taker
	}
	f, err := x.ex.GetTradingFees(ctx, symbol)
	if err != nil {
		x.log.Warn("fee lookup failed", zap.String("symbol", symbol), zap.Error(err))
		return exchange.DefaultFees.Taker
	}
	x.fees[symbol] = f
	return f.Taker
}
