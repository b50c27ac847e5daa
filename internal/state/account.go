package state

import (
	"sort"
	"time"

	"leverage-core/internal/order"
)

// Position is an open exposure on one symbol.
type Position struct {
	Symbol        string
	Side          order.Side
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	Leverage      float64
	UnrealizedPnL float64
	RealizedPnL   float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PnLAt returns the profit of the whole position if it were closed at price.
func (p *Position) PnLAt(price float64) float64 {
	if p.Side == order.SideBuy {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// MarginUsed is size*entry/leverage.
func (p *Position) MarginUsed() float64 {
	lev := p.Leverage
	if lev <= 0 {
		lev = 1
	}
	return p.Size * p.EntryPrice / lev
}

// Notional is the position value at the current price.
func (p *Position) Notional() float64 {
	return p.Size * p.CurrentPrice
}

// MarkPrice updates the current price and the derived unrealized PnL.
func (p *Position) MarkPrice(price float64, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.PnLAt(price)
	p.UpdatedAt = at
}

// Account is the margin ledger: balances plus open positions keyed by symbol.
type Account struct {
	TotalEquity      float64
	AvailableBalance float64
	UsedMargin       float64
	UnrealizedPnL    float64
	RealizedPnL      float64
	Positions        map[string]*Position
}

// NewAccount returns a flat account holding balance in cash.
func NewAccount(balance float64) *Account {
	return &Account{
		TotalEquity:      balance,
		AvailableBalance: balance,
		Positions:        make(map[string]*Position),
	}
}

// Recompute derives used margin, unrealized PnL and equity from the positions.
// TotalEquity = AvailableBalance + UsedMargin + UnrealizedPnL holds afterwards.
func (a *Account) Recompute() {
	var used, unrealized float64
	for _, p := range a.Positions {
		p.UnrealizedPnL = p.PnLAt(p.CurrentPrice)
		used += p.MarginUsed()
		unrealized += p.UnrealizedPnL
	}
	a.UsedMargin = used
	a.UnrealizedPnL = unrealized
	a.TotalEquity = a.AvailableBalance + a.UsedMargin + a.UnrealizedPnL
}

// UpdatePrices marks every held symbol found in prices and recomputes totals.
func (a *Account) UpdatePrices(prices map[string]float64) {
	now := time.Now()
	for sym, p := range a.Positions {
		if px, ok := prices[sym]; ok && px > 0 {
			p.MarkPrice(px, now)
		}
	}
	a.Recompute()
}

// Position returns the open position for symbol.
func (a *Account) Position(symbol string) (*Position, bool) {
	p, ok := a.Positions[symbol]
	return p, ok
}

// Symbols lists held symbols in sorted order.
func (a *Account) Symbols() []string {
	out := make([]string, 0, len(a.Positions))
	for sym := range a.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// RiskRatio is used margin over equity (equity floored at 1).
func (a *Account) RiskRatio() float64 {
	return a.UsedMargin / max(a.TotalEquity, 1.0)
}

// MaxLeverageAllowed tightens the leverage cap as the account loads up on margin:
// full leverage below a 50% risk ratio, at most 5x up to 80%, at most 2x above.
func (a *Account) MaxLeverageAllowed(maxLeverage float64) float64 {
	switch ratio := a.RiskRatio(); {
	case ratio > 0.8:
		return min(maxLeverage, 2.0)
	case ratio > 0.5:
		return min(maxLeverage, 5.0)
	default:
		return maxLeverage
	}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Positions = make(map[string]*Position, len(a.Positions))
	for sym, p := range a.Positions {
		cp := *p
		c.Positions[sym] = &cp
	}
	return &c
}

// Apply executes f against the live account using ApplyFill.
func (a *Account) Apply(f Fill) FillResult {
	next, res := ApplyFill(a, f)
	*a = *next
	return res
}
