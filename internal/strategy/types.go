package strategy

import "time"

// SignalType is the direction a strategy recommends.
type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
	SignalHold SignalType = "hold"
)

// Signal is a decision emitted by a strategy.
type Signal struct {
	Symbol    string
	Type      SignalType
	Strength  float64 // (0, 1]
	Price     float64
	Timestamp time.Time
	Metadata  map[string]any
}

// Candle is one OHLCV bar.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// OHLCV is an ordered window of candles for one symbol, oldest first.
type OHLCV struct {
	Symbol  string
	Candles []Candle
}

// Closes returns the close series.
func (o OHLCV) Closes() []float64 {
	out := make([]float64, len(o.Candles))
	for i, c := range o.Candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the most recent candle.
func (o OHLCV) Last() (Candle, bool) {
	if len(o.Candles) == 0 {
		return Candle{}, false
	}
	return o.Candles[len(o.Candles)-1], true
}

// LeverageConfig tells the execution engine how much leverage a strategy wants.
type LeverageConfig struct {
	MaxLeverage     float64
	DynamicLeverage bool // scale leverage by signal strength
}

// Strategy turns market windows into signals and answers sizing and exit questions.
type Strategy interface {
	Name() string
	GenerateSignals(data OHLCV) []Signal
	CalculatePositionSize(sig Signal, price, availableBalance float64) float64
	ShouldStopLoss(price float64) bool
	ShouldTakeProfit(price float64) bool
	Leverage() LeverageConfig
}
