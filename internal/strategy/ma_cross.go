package strategy

import (
	"fmt"

	"leverage-core/internal/indicators"
)

// MACross emits a buy on a golden cross (fast SMA crossing above slow SMA) and a sell on a
// death cross. Crosses against an extreme RSI are ignored. Strength grows with the spread
// between the averages.
type MACross struct {
	*base
	fastPeriod int
	slowPeriod int
	rsiPeriod  int
	prevSignal SignalType
}

// NewMACross creates an MA cross strategy.
func NewMACross(s Settings, fastPeriod, slowPeriod int) *MACross {
	if fastPeriod <= 0 {
		fastPeriod = 10
	}
	if slowPeriod <= fastPeriod {
		slowPeriod = fastPeriod * 3
	}
	return &MACross{
		base:       newBase(s),
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		rsiPeriod:  14,
		prevSignal: SignalHold,
	}
}

func (s *MACross) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

func (s *MACross) GenerateSignals(data OHLCV) []Signal {
	if data.Symbol != "" && data.Symbol != s.settings.Symbol {
		return nil
	}
	closes := data.Closes()
	if len(closes) < s.slowPeriod+1 {
		return nil
	}

	prev := closes[:len(closes)-1]
	oldFast, oldSlow := indicators.SMA(prev, s.fastPeriod), indicators.SMA(prev, s.slowPeriod)
	fast, slow := indicators.SMA(closes, s.fastPeriod), indicators.SMA(closes, s.slowPeriod)
	rsi := indicators.RSI(closes, s.rsiPeriod)
	price := closes[len(closes)-1]

	var typ SignalType
	switch {
	case oldFast <= oldSlow && fast > slow && rsi < 80:
		typ = SignalBuy
	case oldFast >= oldSlow && fast < slow && rsi > 20:
		typ = SignalSell
	default:
		return nil
	}
	if typ == s.prevSignal {
		return nil
	}
	s.prevSignal = typ

	// 1% spread between the averages counts as a full-strength signal.
	strength := abs(fast-slow) / slow * 100
	return []Signal{s.signal(typ, strength, price, map[string]any{
		"fast_ma": fast,
		"slow_ma": slow,
		"rsi":     rsi,
	})}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
