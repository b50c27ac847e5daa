package risk

import (
	"math"

	"github.com/moznion/go-optional"

	"leverage-core/internal/indicators"
	"leverage-core/internal/state"
)

const (
	defaultLiquidity   = 0.5
	correlationWindow  = 20
	correlationMinSize = 10
)

// metricsLocked derives a snapshot without recording it. account is cloned before
// prices are applied.
func (m *Manager) metricsLocked(account *state.Account, prices map[string]float64) RiskMetrics {
	a := account.Clone()
	a.UpdatePrices(prices)

	equity := max(a.TotalEquity, 1.0)
	s := RiskMetrics{
		TotalEquity:   a.TotalEquity,
		TotalMargin:   a.UsedMargin,
		LeverageRatio: a.UsedMargin / equity,
		MarginRatio:   a.AvailableBalance / equity,
		UnrealizedPnL: a.UnrealizedPnL,
		RealizedPnL:   a.RealizedPnL,
		TotalPnL:      a.UnrealizedPnL + a.RealizedPnL,
		PositionCount: len(a.Positions),
		Timestamp:     m.now(),
	}

	s.PeakEquity = a.TotalEquity
	for _, h := range m.history {
		s.PeakEquity = max(s.PeakEquity, h.TotalEquity)
		s.MaxDrawdown = max(s.MaxDrawdown, h.CurrentDrawdown)
	}
	s.CurrentDrawdown = (s.PeakEquity - a.TotalEquity) / max(s.PeakEquity, 1.0)

	for _, p := range a.Positions {
		ratio := p.Notional() / equity
		s.LargestPositionRatio = max(s.LargestPositionRatio, ratio)
		s.PositionConcentration += ratio * ratio
	}
	s.LiquidityScore = m.liquidityScore(a)
	s.PortfolioCorrelation = m.portfolioCorrelation(a)
	s.OverallRiskLevel = m.overallLevel(s)
	return s
}

// liquidityScore is the notional-weighted mean of min(1, avg volume / reference volume).
func (m *Manager) liquidityScore(a *state.Account) float64 {
	if len(a.Positions) == 0 {
		return 1.0
	}
	var total, weight float64
	for sym, p := range a.Positions {
		score := defaultLiquidity
		if hist := m.market[sym]; len(hist) > 0 {
			vols := make([]float64, len(hist))
			for i, pt := range hist {
				vols[i] = pt.volume
			}
			score = min(1.0, indicators.Mean(vols)/m.limits.ReferenceVolume)
		}
		w := p.Notional()
		total += score * w
		weight += w
	}
	return total / max(weight, 1.0)
}

// portfolioCorrelation is the mean absolute Pearson correlation of recent returns over
// every pair of held symbols with enough history.
func (m *Manager) portfolioCorrelation(a *state.Account) float64 {
	syms := a.Symbols()
	if len(syms) < 2 {
		return 0
	}
	returns := make(map[string][]float64, len(syms))
	for _, sym := range syms {
		hist := m.market[sym]
		if len(hist) <= correlationMinSize {
			continue
		}
		if len(hist) > correlationWindow {
			hist = hist[len(hist)-correlationWindow:]
		}
		closes := make([]float64, len(hist))
		for i, pt := range hist {
			closes[i] = pt.price
		}
		returns[sym] = indicators.Returns(closes)
	}

	var sum float64
	var n int
	for i := range syms {
		for j := i + 1; j < len(syms); j++ {
			r1, ok1 := returns[syms[i]]
			r2, ok2 := returns[syms[j]]
			if !ok1 || !ok2 {
				continue
			}
			c := indicators.Pearson(r1, r2)
			if math.IsNaN(c) {
				continue
			}
			sum += math.Abs(c)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// overallLevel adds a fixed increment per stressed factor and maps the score onto a level.
func (m *Manager) overallLevel(s RiskMetrics) RiskLevel {
	l := m.limits
	var score float64

	switch {
	case s.LeverageRatio > l.MaxLeverageUsage:
		score += 0.3
	case s.LeverageRatio > l.MaxLeverageUsage*0.8:
		score += 0.2
	}
	switch {
	case s.CurrentDrawdown > l.MaxDrawdown:
		score += 0.3
	case s.CurrentDrawdown > l.MaxDrawdown*0.8:
		score += 0.2
	}
	switch {
	case s.LargestPositionRatio > l.MaxPositionSize:
		score += 0.2
	case s.LargestPositionRatio > l.MaxPositionSize*0.8:
		score += 0.1
	}
	if s.LiquidityScore < l.MinLiquidityScore {
		score += 0.1
	}
	if s.PortfolioCorrelation > l.MaxCorrelation {
		score += 0.1
	}
	if s.MarginRatio < l.MinMarginRatio {
		score += 0.2
	}

	switch {
	case score >= l.HighRiskThreshold:
		return LevelCritical
	case score >= l.MediumRiskThreshold:
		return LevelHigh
	case score >= 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}

func someFloat(v float64) optional.Option[float64] {
	return optional.Some(v)
}
