package risk

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/internal/state"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestManager(limits RiskLimits) (*Manager, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(limits, zap.NewNop(), WithClock(c.now)), c
}

func accountWith(balance float64, fills ...state.Fill) *state.Account {
	a := state.NewAccount(balance)
	for _, f := range fills {
		a.Apply(f)
	}
	return a
}

func long(sym string, qty, price, lev float64) state.Fill {
	return state.Fill{Symbol: sym, Side: order.SideBuy, Quantity: qty, Price: price, Leverage: lev}
}

func short(sym string, qty, price, lev float64) state.Fill {
	return state.Fill{Symbol: sym, Side: order.SideSell, Quantity: qty, Price: price, Leverage: lev}
}

func newOrder(t *testing.T, sym string, side order.Side, qty, price, lev float64) *order.Order {
	t.Helper()
	o, err := order.New(order.Params{ID: "ORD_TEST", Symbol: sym, Side: side, Quantity: qty, Price: price, Leverage: lev})
	require.NoError(t, err)
	return o
}

func findAlert(alerts []RiskAlert, typ AlertType) (RiskAlert, bool) {
	for _, a := range alerts {
		if a.Type == typ {
			return a, true
		}
	}
	return RiskAlert{}, false
}

func TestLeverageAlert(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 1.8, 50000, 10))
	before := acct.Clone()

	alerts := m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 50000})

	a, ok := findAlert(alerts, AlertLeverage)
	require.True(t, ok)
	assert.Equal(t, LevelHigh, a.Level)
	assert.InDelta(t, 0.9, a.CurrentValue.Unwrap(), 1e-9)
	assert.InDelta(t, 0.8, a.Threshold.Unwrap(), 1e-9)
	assert.True(t, a.Symbol.IsNone())
	assert.NotEmpty(t, a.ID)
	assert.False(t, m.EmergencyMode())
	assert.Equal(t, before, acct, "account must not be mutated")
}

func TestAlertsAreDeduplicated(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 1.8, 50000, 10))
	prices := map[string]float64{"BTCUSDT": 50000}

	first := m.CheckRiskViolations(acct, prices)
	second := m.CheckRiskViolations(acct, prices)

	a1, _ := findAlert(first, AlertLeverage)
	a2, _ := findAlert(second, AlertLeverage)
	assert.Equal(t, a1.ID, a2.ID)
	assert.Len(t, m.ActiveAlerts(), len(first))
	assert.Len(t, m.AlertHistory(), len(first)+len(second))
}

func TestMarginCallSetsEmergencyAndResetClears(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	var seen []RiskAlert
	m.OnAlert(func(RiskAlert) { panic("listener bug") })
	m.OnAlert(func(a RiskAlert) { seen = append(seen, a) })

	acct := accountWith(10000, long("BTCUSDT", 1.92, 50000, 10))
	alerts := m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 50000})

	a, ok := findAlert(alerts, AlertMarginCall)
	require.True(t, ok)
	assert.Equal(t, LevelCritical, a.Level)
	assert.InDelta(t, 0.04, a.CurrentValue.Unwrap(), 1e-9)
	assert.True(t, m.EmergencyMode())
	assert.False(t, m.TradingHalted())
	assert.Len(t, seen, len(alerts))

	m.ResetEmergencyMode()
	assert.False(t, m.EmergencyMode())
	assert.Empty(t, m.ActiveAlerts())
}

func TestCriticalDrawdownHaltsTrading(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 1, 50000, 10))

	m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 50000})
	assert.False(t, m.TradingHalted())

	alerts := m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 47000})
	a, ok := findAlert(alerts, AlertDrawdown)
	require.True(t, ok)
	assert.Equal(t, LevelCritical, a.Level)
	assert.InDelta(t, 0.3, a.CurrentValue.Unwrap(), 1e-9)
	assert.True(t, m.TradingHalted())

	ok, reason := m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideBuy, 0.01, 47000, 1), acct, nil)
	assert.False(t, ok)
	assert.Equal(t, "trading halted", reason)
}

func TestModerateDrawdownIsHighNotCritical(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 1, 50000, 10))

	m.CalculateRiskMetrics(acct, map[string]float64{"BTCUSDT": 50000})
	alerts := m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 48000})

	a, ok := findAlert(alerts, AlertDrawdown)
	require.True(t, ok)
	assert.Equal(t, LevelHigh, a.Level)
	assert.False(t, m.TradingHalted())
}

func TestValidateOrderUsesSimulation(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxPositionSize = 10
	m, _ := newTestManager(limits)
	acct := state.NewAccount(10000)
	prices := map[string]float64{"BTCUSDT": 50000}
	before := acct.Clone()

	ok, reason := m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideBuy, 1.5, 50000, 10), acct, prices)
	assert.True(t, ok, reason)
	assert.Empty(t, reason)

	ok, reason = m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideBuy, 1.7, 50000, 10), acct, prices)
	assert.False(t, ok)
	assert.Contains(t, reason, "leverage ratio")

	assert.Equal(t, before, acct)
	assert.Empty(t, m.HistoricalData(time.Hour), "validation must not record snapshots")
}

func TestValidateOrderRejections(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000}

	t.Run("position size", func(t *testing.T) {
		m, _ := newTestManager(DefaultLimits())
		ok, reason := m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideBuy, 0.1, 50000, 10), state.NewAccount(10000), prices)
		assert.False(t, ok)
		assert.Contains(t, reason, "largest position")

		ok, _ = m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideBuy, 0.05, 50000, 10), state.NewAccount(10000), prices)
		assert.True(t, ok)
	})

	t.Run("position count", func(t *testing.T) {
		limits := DefaultLimits()
		limits.MaxPositionCount = 1
		m, _ := newTestManager(limits)
		acct := accountWith(10000, long("BTCUSDT", 0.01, 50000, 5))
		ok, reason := m.ValidateOrder(newOrder(t, "ETHUSDT", order.SideBuy, 0.1, 3000, 5), acct, prices)
		assert.False(t, ok)
		assert.Contains(t, reason, "position count")
	})

	t.Run("insufficient margin", func(t *testing.T) {
		limits := DefaultLimits()
		limits.MaxLeverageUsage = 2
		limits.MaxPositionSize = 100
		m, _ := newTestManager(limits)
		ok, reason := m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideBuy, 2.5, 50000, 10), state.NewAccount(10000), prices)
		assert.False(t, ok)
		assert.Contains(t, reason, "insufficient margin")
	})

	t.Run("reducing order passes", func(t *testing.T) {
		m, _ := newTestManager(DefaultLimits())
		acct := accountWith(10000, long("BTCUSDT", 0.05, 50000, 10))
		ok, reason := m.ValidateOrder(newOrder(t, "BTCUSDT", order.SideSell, 0.05, 50000, 10), acct, prices)
		assert.True(t, ok, reason)
	})
}

func TestRiskMetrics(t *testing.T) {
	m, c := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 0.1, 50000, 5), long("ETHUSDT", 1, 3000, 5))
	for i := 0; i < 15; i++ {
		p := 100 + float64(i*i%7)
		m.UpdateMarketData("BTCUSDT", p, 2_000_000, c.t)
		m.UpdateMarketData("ETHUSDT", 30*p, 250_000, c.t)
	}

	s := m.CalculateRiskMetrics(acct, map[string]float64{"BTCUSDT": 50000, "ETHUSDT": 3000})
	assert.InDelta(t, 10000, s.TotalEquity, 1e-9)
	assert.InDelta(t, 1600, s.TotalMargin, 1e-9)
	assert.InDelta(t, 0.16, s.LeverageRatio, 1e-9)
	assert.InDelta(t, 0.84, s.MarginRatio, 1e-9)
	assert.Equal(t, 2, s.PositionCount)
	assert.InDelta(t, 0.5, s.LargestPositionRatio, 1e-9)
	assert.InDelta(t, 0.34, s.PositionConcentration, 1e-9)
	assert.InDelta(t, 0.71875, s.LiquidityScore, 1e-9)
	assert.InDelta(t, 1.0, s.PortfolioCorrelation, 1e-9)
	// largest position 0.2 + correlation 0.1
	assert.Equal(t, LevelMedium, s.OverallRiskLevel)
	assert.Equal(t, s, m.CurrentMetrics())
}

func TestDrawdownTracksPeak(t *testing.T) {
	m, c := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 0.1, 50000, 5))

	s := m.CalculateRiskMetrics(acct, map[string]float64{"BTCUSDT": 50000})
	assert.InDelta(t, 10000, s.PeakEquity, 1e-9)
	assert.Zero(t, s.CurrentDrawdown)

	c.t = c.t.Add(time.Minute)
	s = m.CalculateRiskMetrics(acct, map[string]float64{"BTCUSDT": 45000})
	assert.InDelta(t, 10000, s.PeakEquity, 1e-9)
	assert.InDelta(t, 0.05, s.CurrentDrawdown, 1e-9)
	assert.Zero(t, s.MaxDrawdown)

	c.t = c.t.Add(time.Minute)
	s = m.CalculateRiskMetrics(acct, map[string]float64{"BTCUSDT": 50000})
	assert.Zero(t, s.CurrentDrawdown)
	assert.InDelta(t, 0.05, s.MaxDrawdown, 1e-9)

	c.t = c.t.Add(90 * time.Second)
	assert.Len(t, m.HistoricalData(3*time.Minute), 2)
	assert.Len(t, m.HistoricalData(time.Hour), 3)
}

func TestLiquidityAndCorrelationDefaults(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())

	s := m.CalculateRiskMetrics(state.NewAccount(10000), nil)
	assert.Equal(t, 1.0, s.LiquidityScore)
	assert.Zero(t, s.PortfolioCorrelation)
	assert.Equal(t, LevelLow, s.OverallRiskLevel)

	acct := accountWith(10000, long("BTCUSDT", 0.01, 50000, 5), long("ETHUSDT", 0.1, 3000, 5))
	s = m.CalculateRiskMetrics(acct, nil)
	assert.Equal(t, 0.5, s.LiquidityScore)
	assert.Zero(t, s.PortfolioCorrelation, "no history means no correlation")
}

func TestStopLossAndTakeProfitOrders(t *testing.T) {
	m, c := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 0.1, 50000, 2), short("ETHUSDT", 1, 3000, 3))

	sl := m.StopLossOrders(acct, map[string]float64{"BTCUSDT": 47400, "ETHUSDT": 3200})
	require.Len(t, sl, 2)

	btc := sl[0]
	assert.True(t, strings.HasPrefix(btc.ID, fmt.Sprintf("SL_BTCUSDT_%d_", c.t.Unix())), btc.ID)
	assert.Equal(t, order.SideSell, btc.Side)
	assert.Equal(t, order.TypeStopLoss, btc.Type)
	assert.Equal(t, 0.1, btc.Quantity)
	assert.Equal(t, 2.0, btc.Leverage)
	assert.Equal(t, "stop_loss", btc.Reason())
	assert.InDelta(t, 47500, btc.Metadata[order.MetaTriggerPrice].(float64), 1e-9)
	assert.InDelta(t, -0.052, btc.Metadata[MetaLossPercentage].(float64), 1e-9)

	eth := sl[1]
	assert.Equal(t, order.SideBuy, eth.Side)
	assert.InDelta(t, 3150, eth.Metadata[order.MetaTriggerPrice].(float64), 1e-9)

	assert.Empty(t, m.StopLossOrders(acct, map[string]float64{"BTCUSDT": 49000, "ETHUSDT": 3100}))
	assert.Empty(t, m.TakeProfitOrders(acct, map[string]float64{"BTCUSDT": 49000}))

	tp := m.TakeProfitOrders(acct, map[string]float64{"BTCUSDT": 56000, "ETHUSDT": 2600})
	require.Len(t, tp, 2)
	assert.True(t, strings.HasPrefix(tp[0].ID, fmt.Sprintf("TP_BTCUSDT_%d_", c.t.Unix())), tp[0].ID)
	assert.Equal(t, "take_profit", tp[0].Reason())
	assert.InDelta(t, 0.12, tp[0].Metadata[MetaProfitPercentage].(float64), 1e-9)
	assert.Equal(t, order.SideBuy, tp[1].Side)
}

func TestResolveAlertAndReport(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	acct := accountWith(10000, long("BTCUSDT", 1.8, 50000, 10))
	alerts := m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 50000})
	require.NotEmpty(t, alerts)

	r := m.Report()
	assert.Len(t, r.ActiveAlerts, len(alerts))
	assert.Equal(t, 10.0, r.Limits.MaxLeverage)
	assert.False(t, r.EmergencyMode)

	assert.True(t, m.ResolveAlert(alerts[0].ID))
	assert.False(t, m.ResolveAlert(alerts[0].ID))
	assert.Len(t, m.ActiveAlerts(), len(alerts)-1)
}

func TestUpdateLimits(t *testing.T) {
	m, _ := newTestManager(DefaultLimits())
	got := m.UpdateLimits(func(l *RiskLimits) { l.MaxLeverageUsage = 0.95 })
	assert.Equal(t, 0.95, got.MaxLeverageUsage)
	assert.Equal(t, 0.95, m.Limits().MaxLeverageUsage)

	acct := accountWith(10000, long("BTCUSDT", 1.8, 50000, 10))
	_, ok := findAlert(m.CheckRiskViolations(acct, map[string]float64{"BTCUSDT": 50000}), AlertLeverage)
	assert.False(t, ok)

	m.SetLimits(DefaultLimits())
	assert.Equal(t, 0.8, m.Limits().MaxLeverageUsage)
}

func TestAppendBounded(t *testing.T) {
	var s []int
	for i := 0; i < 7; i++ {
		s = appendBounded(s, i, 5)
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6}, s)
}
