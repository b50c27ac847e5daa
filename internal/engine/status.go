package engine

import (
	"leverage-core/internal/order"
	"leverage-core/internal/state"
)

// AccountSummary is the ledger part of Status.
type AccountSummary struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	UsedMargin       float64 `json:"used_margin"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	RealizedPnL      float64 `json:"realized_pnl"`
	PositionsCount   int     `json:"positions_count"`
}

// OrderCounts tallies recorded orders by status.
type OrderCounts struct {
	Total     int `json:"total_orders"`
	Pending   int `json:"pending_orders"`
	Partial   int `json:"partial_orders"`
	Filled    int `json:"filled_orders"`
	Failed    int `json:"failed_orders"`
	Cancelled int `json:"cancelled_orders"`
}

// RiskStatus is a coarse exposure reading of the account.
type RiskStatus struct {
	PositionRatio float64 `json:"position_ratio"`
	LeverageUsage float64 `json:"leverage_usage"`
	Drawdown      float64 `json:"drawdown"`
	Level         string  `json:"risk_level"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Account    AccountSummary `json:"account"`
	Orders     OrderCounts    `json:"orders"`
	Statistics Statistics     `json:"statistics"`
	Risk       RiskStatus     `json:"risk_status"`
}

// Status summarises the account, order table and counters.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	a := e.account
	var counts OrderCounts
	for _, o := range e.orders {
		counts.Total++
		switch o.Status {
		case order.StatusPending:
			counts.Pending++
		case order.StatusPartial:
			counts.Partial++
		case order.StatusFilled:
			counts.Filled++
		case order.StatusFailed:
			counts.Failed++
		case order.StatusCancelled:
			counts.Cancelled++
		}
	}
	return Status{
		Account: AccountSummary{
			TotalEquity:      a.TotalEquity,
			AvailableBalance: a.AvailableBalance,
			UsedMargin:       a.UsedMargin,
			UnrealizedPnL:    a.UnrealizedPnL,
			RealizedPnL:      a.RealizedPnL,
			PositionsCount:   len(a.Positions),
		},
		Orders:     counts,
		Statistics: e.stats,
		Risk:       riskStatus(a),
	}
}

func riskStatus(a *state.Account) RiskStatus {
	rs := RiskStatus{
		PositionRatio: a.UsedMargin / max(a.TotalEquity, 1.0),
		LeverageUsage: a.UsedMargin / max(a.AvailableBalance, 1.0),
		Drawdown:      a.UnrealizedPnL / max(a.TotalEquity, 1.0),
	}
	switch {
	case rs.PositionRatio > 0.8 || rs.LeverageUsage > 0.8 || rs.Drawdown < -0.1:
		rs.Level = "high"
	case rs.PositionRatio > 0.5 || rs.LeverageUsage > 0.5 || rs.Drawdown < -0.05:
		rs.Level = "medium"
	default:
		rs.Level = "low"
	}
	return rs
}

// PositionView is one row of PositionsSummary.
type PositionView struct {
	Symbol        string     `json:"symbol"`
	Side          order.Side `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	CurrentPrice  float64    `json:"current_price"`
	Leverage      float64    `json:"leverage"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	MarginUsed    float64    `json:"margin_used"`
	PnLPercentage float64    `json:"pnl_percentage"`
}

// PositionsSummary lists open positions with totals.
type PositionsSummary struct {
	Positions          []PositionView `json:"positions"`
	TotalPositions     int            `json:"total_positions"`
	TotalUnrealizedPnL float64        `json:"total_unrealized_pnl"`
	TotalMarginUsed    float64        `json:"total_margin_used"`
}

// PositionsSummary returns the open positions in symbol order.
func (e *Engine) PositionsSummary() PositionsSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := PositionsSummary{Positions: []PositionView{}}
	for _, sym := range e.account.Symbols() {
		p := e.account.Positions[sym]
		v := PositionView{
			Symbol:        sym,
			Side:          p.Side,
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			Leverage:      p.Leverage,
			UnrealizedPnL: p.UnrealizedPnL,
			MarginUsed:    p.MarginUsed(),
		}
		if cost := p.Size * p.EntryPrice; cost > 0 {
			v.PnLPercentage = p.UnrealizedPnL / cost * 100
		}
		out.Positions = append(out.Positions, v)
		out.TotalUnrealizedPnL += v.UnrealizedPnL
		out.TotalMarginUsed += v.MarginUsed
	}
	out.TotalPositions = len(out.Positions)
	return out
}
