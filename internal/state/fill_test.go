package state

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/internal/order"
)

func buy(qty, px, lev float64) Fill {
	return Fill{Symbol: "BTCUSDT", Side: order.SideBuy, Quantity: qty, Price: px, Leverage: lev}
}

func sell(qty, px, lev float64) Fill {
	return Fill{Symbol: "BTCUSDT", Side: order.SideSell, Quantity: qty, Price: px, Leverage: lev}
}

func assertEquityInvariant(t *testing.T, a *Account) {
	t.Helper()
	assert.InDelta(t, a.AvailableBalance+a.UsedMargin+a.UnrealizedPnL, a.TotalEquity, 1e-6)
}

func TestOpenThenCloseRealizesExactPnL(t *testing.T) {
	acct := NewAccount(10000)

	res := acct.Apply(buy(0.1, 50000, 1))
	assert.Equal(t, FillOpened, res.Kind)
	assert.InDelta(t, 5000, acct.AvailableBalance, 1e-9)
	assert.InDelta(t, 5000, acct.UsedMargin, 1e-9)
	assertEquityInvariant(t, acct)

	res = acct.Apply(sell(0.1, 52000, 1))
	assert.Equal(t, FillClosed, res.Kind)
	assert.Equal(t, 200.0, res.RealizedPnL)
	assert.Equal(t, 200.0, acct.RealizedPnL)
	_, held := acct.Position("BTCUSDT")
	assert.False(t, held)
	assert.InDelta(t, 10200, acct.TotalEquity, 1e-9)
	assertEquityInvariant(t, acct)
}

func TestApplyFillDoesNotMutateInput(t *testing.T) {
	acct := NewAccount(10000)
	acct.Apply(buy(0.1, 50000, 2))
	before := acct.Clone()

	next, _ := ApplyFill(acct, sell(0.05, 51000, 2))

	assert.Equal(t, before, acct)
	assert.InDelta(t, 0.05, next.Positions["BTCUSDT"].Size, 1e-12)
	assert.InDelta(t, 0.1, acct.Positions["BTCUSDT"].Size, 1e-12)
}

func TestSameSideFillsProduceWeightedAverage(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		acct := NewAccount(1_000_000)
		var notional, size float64
		for i := 0; i < 1+rng.Intn(8); i++ {
			qty := 0.001 + rng.Float64()
			px := 1000 + rng.Float64()*60000
			acct.Apply(buy(qty, px, 1+rng.Float64()*9))
			notional += qty * px
			size += qty
		}
		p := acct.Positions["BTCUSDT"]
		require.NotNil(t, p)
		assert.InDelta(t, notional/size, p.EntryPrice, 1e-6)
		assert.InDelta(t, size, p.Size, 1e-9)
		assertEquityInvariant(t, acct)
	}
}

func TestSameSideKeepsLargerLeverage(t *testing.T) {
	acct := NewAccount(10000)
	acct.Apply(buy(0.01, 50000, 5))
	acct.Apply(buy(0.01, 50000, 3))
	assert.Equal(t, 5.0, acct.Positions["BTCUSDT"].Leverage)
	acct.Apply(buy(0.01, 50000, 8))
	assert.Equal(t, 8.0, acct.Positions["BTCUSDT"].Leverage)
}

func TestPartialCloseKeepsEntryAndRealizesFraction(t *testing.T) {
	acct := NewAccount(10000)
	acct.Apply(buy(0.2, 50000, 2))

	res := acct.Apply(sell(0.05, 54000, 2))
	p := acct.Positions["BTCUSDT"]

	assert.Equal(t, FillReduced, res.Kind)
	assert.InDelta(t, 200, res.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.15, p.Size, 1e-12)
	assert.Equal(t, 50000.0, p.EntryPrice)
	assert.InDelta(t, 200, p.RealizedPnL, 1e-9)
	assert.InDelta(t, 1250, res.MarginReleased, 1e-9)
	assertEquityInvariant(t, acct)
}

func TestOversizedOppositeFillFlips(t *testing.T) {
	acct := NewAccount(10000)
	acct.Apply(buy(0.1, 50000, 1))

	res := acct.Apply(sell(0.15, 49000, 4))
	p := acct.Positions["BTCUSDT"]

	assert.Equal(t, FillFlipped, res.Kind)
	assert.InDelta(t, -100, res.RealizedPnL, 1e-9)
	assert.Equal(t, order.SideSell, p.Side)
	assert.InDelta(t, 0.05, p.Size, 1e-12)
	assert.Equal(t, 49000.0, p.EntryPrice)
	assert.Equal(t, 4.0, p.Leverage)
	assertEquityInvariant(t, acct)
}

func TestShortPnL(t *testing.T) {
	acct := NewAccount(10000)
	acct.Apply(sell(1, 3000, 3))
	acct.UpdatePrices(map[string]float64{"BTCUSDT": 2900})

	assert.InDelta(t, 100, acct.UnrealizedPnL, 1e-9)
	assertEquityInvariant(t, acct)

	res := acct.Apply(buy(1, 2900, 3))
	assert.InDelta(t, 100, res.RealizedPnL, 1e-9)
	assert.Empty(t, acct.Positions)
	assert.InDelta(t, 10100, acct.AvailableBalance, 1e-9)
}

func TestMaxLeverageAllowed(t *testing.T) {
	tests := []struct {
		name  string
		used  float64
		want  float64
		limit float64
	}{
		{"low risk", 4000, 10, 10},
		{"medium risk", 6000, 5, 10},
		{"high risk", 9000, 2, 10},
		{"cap below tier", 9000, 1.5, 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{TotalEquity: 10000, UsedMargin: tt.used, Positions: map[string]*Position{}}
			assert.Equal(t, tt.want, a.MaxLeverageAllowed(tt.limit))
		})
	}
}
