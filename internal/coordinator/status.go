package coordinator

import (
	"time"

	"leverage-core/internal/engine"
	"leverage-core/internal/risk"
)

// Report is the combined view served by the status endpoint.
type Report struct {
	Trading   TradingStatus `json:"trading_status"`
	Strategy  string        `json:"strategy"`
	Symbol    string        `json:"symbol"`
	Execution engine.Status `json:"execution_status"`
	Risk      risk.Report   `json:"risk_report"`
}

// Status returns the session status with live uptime.
func (c *Coordinator) Status() TradingStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	if st.State.Active() {
		st.Uptime = c.now().Sub(st.StartTime)
	}
	return st
}

// Report combines session, execution and risk status.
func (c *Coordinator) Report() Report {
	r := Report{
		Trading:   c.Status(),
		Symbol:    c.cfg.Symbol,
		Execution: c.reg.Engine.Status(),
		Risk:      c.reg.Risk.Report(),
	}
	if s := c.reg.Engine.Strategy(); s != nil {
		r.Strategy = s.Name()
	}
	return r
}

// AccountMetrics describes the account against its starting balance.
type AccountMetrics struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	UsedMargin       float64 `json:"used_margin"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	RealizedPnL      float64 `json:"realized_pnl"`
	TotalPnL         float64 `json:"total_pnl"`
	ReturnPercentage float64 `json:"return_percentage"`
}

// TradingMetrics are the session counters with derived rates.
type TradingMetrics struct {
	TotalSignals   int           `json:"total_signals"`
	TotalOrders    int           `json:"total_orders"`
	ExecutedOrders int           `json:"executed_orders"`
	FailedOrders   int           `json:"failed_orders"`
	SuccessRate    float64       `json:"success_rate"`
	OpenPositions  int           `json:"open_positions"`
	Uptime         time.Duration `json:"uptime"`
}

// Performance is returned by PerformanceMetrics.
type Performance struct {
	Account AccountMetrics   `json:"account_metrics"`
	Trading TradingMetrics   `json:"trading_metrics"`
	Risk    risk.RiskMetrics `json:"risk_metrics"`
}

// PerformanceMetrics reports returns against the engine's initial balance and the
// session's order success rate in percent.
func (c *Coordinator) PerformanceMetrics() Performance {
	acct := c.reg.Engine.Account()
	initial := c.reg.Engine.Config().InitialBalance
	st := c.Status()

	am := AccountMetrics{
		TotalEquity:      acct.TotalEquity,
		AvailableBalance: acct.AvailableBalance,
		UsedMargin:       acct.UsedMargin,
		UnrealizedPnL:    acct.UnrealizedPnL,
		RealizedPnL:      acct.RealizedPnL,
		TotalPnL:         acct.RealizedPnL + acct.UnrealizedPnL,
	}
	if initial > 0 {
		am.ReturnPercentage = (acct.TotalEquity - initial) / initial * 100
	}

	tm := TradingMetrics{
		TotalSignals:   st.ProcessedSignals,
		TotalOrders:    st.ExecutedOrders + st.FailedOrders,
		ExecutedOrders: st.ExecutedOrders,
		FailedOrders:   st.FailedOrders,
		OpenPositions:  len(acct.Positions),
		Uptime:         st.Uptime,
	}
	if tm.TotalOrders > 0 {
		tm.SuccessRate = float64(tm.ExecutedOrders) / float64(tm.TotalOrders) * 100
	}
	return Performance{Account: am, Trading: tm, Risk: c.reg.Risk.CurrentMetrics()}
}

// MarketSnapshot is the last known quote for a symbol.
type MarketSnapshot struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Change24h float64   `json:"change_24h"`
	History   int       `json:"history_length"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketDataSummary returns the last snapshot per symbol.
func (c *Coordinator) MarketDataSummary() map[string]MarketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]MarketSnapshot, len(c.market))
	for sym, md := range c.market {
		out[sym] = MarketSnapshot{
			Price:     md.Price,
			Volume:    md.Volume,
			Bid:       md.Bid,
			Ask:       md.Ask,
			Change24h: md.Change24h,
			History:   len(c.history[sym]),
			Timestamp: md.Timestamp,
		}
	}
	return out
}
