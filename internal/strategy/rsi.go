package strategy

import (
	"fmt"

	"leverage-core/internal/indicators"
)

// RSIReversion buys when RSI drops below the oversold threshold and sells when it rises
// above the overbought threshold. Repeated signals in the same direction are suppressed.
type RSIReversion struct {
	*base
	period     int
	oversold   float64
	overbought float64
	prevSignal SignalType
}

// NewRSIReversion creates an RSI mean-reversion strategy.
func NewRSIReversion(s Settings, period int, oversold, overbought float64) *RSIReversion {
	if period <= 0 {
		period = 14
	}
	if oversold <= 0 {
		oversold = 30
	}
	if overbought <= oversold {
		overbought = 70
	}
	return &RSIReversion{
		base:       newBase(s),
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		prevSignal: SignalHold,
	}
}

func (s *RSIReversion) Name() string {
	return fmt.Sprintf("RSI_%d", s.period)
}

func (s *RSIReversion) GenerateSignals(data OHLCV) []Signal {
	if data.Symbol != "" && data.Symbol != s.settings.Symbol {
		return nil
	}
	closes := data.Closes()
	if len(closes) < s.period+1 {
		return nil
	}
	rsi := indicators.RSI(closes, s.period)
	price := closes[len(closes)-1]

	var (
		typ      SignalType
		strength float64
	)
	switch {
	case rsi < s.oversold:
		typ, strength = SignalBuy, (s.oversold-rsi)/s.oversold
	case rsi > s.overbought:
		typ, strength = SignalSell, (rsi-s.overbought)/(100-s.overbought)
	default:
		s.prevSignal = SignalHold
		return nil
	}
	if typ == s.prevSignal {
		return nil
	}
	s.prevSignal = typ
	return []Signal{s.signal(typ, strength, price, map[string]any{"rsi": rsi})}
}
