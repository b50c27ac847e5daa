package strategy

import (
	"sync"
	"time"
)

// Settings are the knobs shared by the built-in strategies.
type Settings struct {
	Symbol           string  `yaml:"symbol"`
	MaxLeverage      float64 `yaml:"max_leverage"`
	DynamicLeverage  bool    `yaml:"dynamic_leverage"`
	PositionFraction float64 `yaml:"position_fraction"` // share of available balance per full-strength signal
	StopLoss         float64 `yaml:"stop_loss"`         // fraction from the reference entry
	TakeProfit       float64 `yaml:"take_profit"`
	SellRatio        float64 `yaml:"sell_ratio"` // share of a long closed by a sell signal
}

// DefaultSettings returns conservative defaults.
func DefaultSettings(symbol string) Settings {
	return Settings{
		Symbol:           symbol,
		MaxLeverage:      3,
		DynamicLeverage:  true,
		PositionFraction: 0.2,
		StopLoss:         0.03,
		TakeProfit:       0.06,
		SellRatio:        0.5,
	}
}

// base implements sizing, exits and leverage on top of the last entry signal.
type base struct {
	mu       sync.RWMutex
	settings Settings
	refPrice float64
	refSide  SignalType
}

func newBase(s Settings) *base {
	d := DefaultSettings(s.Symbol)
	if s.MaxLeverage <= 0 {
		s.MaxLeverage = d.MaxLeverage
	}
	if s.PositionFraction <= 0 {
		s.PositionFraction = d.PositionFraction
	}
	if s.StopLoss <= 0 {
		s.StopLoss = d.StopLoss
	}
	if s.TakeProfit <= 0 {
		s.TakeProfit = d.TakeProfit
	}
	if s.SellRatio <= 0 {
		s.SellRatio = d.SellRatio
	}
	return &base{settings: s}
}

func (b *base) Leverage() LeverageConfig {
	return LeverageConfig{MaxLeverage: b.settings.MaxLeverage, DynamicLeverage: b.settings.DynamicLeverage}
}

func (b *base) CalculatePositionSize(sig Signal, price, availableBalance float64) float64 {
	if price <= 0 || availableBalance <= 0 {
		return 0
	}
	strength := min(max(sig.Strength, 0), 1)
	return availableBalance * b.settings.PositionFraction * strength / price
}

func (b *base) ShouldStopLoss(price float64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.refSide {
	case SignalBuy:
		return price <= b.refPrice*(1-b.settings.StopLoss)
	case SignalSell:
		return price >= b.refPrice*(1+b.settings.StopLoss)
	}
	return false
}

func (b *base) ShouldTakeProfit(price float64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.refSide {
	case SignalBuy:
		return price >= b.refPrice*(1+b.settings.TakeProfit)
	case SignalSell:
		return price <= b.refPrice*(1-b.settings.TakeProfit)
	}
	return false
}

// signal records the entry reference and builds the outgoing Signal.
func (b *base) signal(typ SignalType, strength, price float64, meta map[string]any) Signal {
	b.mu.Lock()
	b.refPrice = price
	b.refSide = typ
	b.mu.Unlock()

	if meta == nil {
		meta = map[string]any{}
	}
	if typ == SignalSell {
		meta["sell_ratio"] = b.settings.SellRatio
	}
	return Signal{
		Symbol:    b.settings.Symbol,
		Type:      typ,
		Strength:  min(max(strength, 0.01), 1),
		Price:     price,
		Timestamp: time.Now(),
		Metadata:  meta,
	}
}
