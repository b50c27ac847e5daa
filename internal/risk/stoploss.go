package risk

import (
	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/internal/state"
)

// Metadata keys set on protective orders.
const (
	MetaLossPercentage   = "loss_percentage"
	MetaProfitPercentage = "profit_percentage"
)

// StopLossOrders returns full-size closing orders for positions whose price crossed the
// default stop-loss distance from entry.
func (m *Manager) StopLossOrders(account *state.Account, prices map[string]float64) []*order.Order {
	m.mu.RLock()
	pct := m.limits.DefaultStopLoss
	m.mu.RUnlock()

	return m.protective(account, prices, "SL", order.TypeStopLoss, func(p *state.Position, price float64) (float64, bool) {
		if p.Side == order.SideBuy {
			trigger := p.EntryPrice * (1 - pct)
			return trigger, price <= trigger
		}
		trigger := p.EntryPrice * (1 + pct)
		return trigger, price >= trigger
	})
}

// TakeProfitOrders returns full-size closing orders for positions whose price reached the
// default take-profit distance from entry.
func (m *Manager) TakeProfitOrders(account *state.Account, prices map[string]float64) []*order.Order {
	m.mu.RLock()
	pct := m.limits.DefaultTakeProfit
	m.mu.RUnlock()

	return m.protective(account, prices, "TP", order.TypeTakeProfit, func(p *state.Position, price float64) (float64, bool) {
		if p.Side == order.SideBuy {
			trigger := p.EntryPrice * (1 + pct)
			return trigger, price >= trigger
		}
		trigger := p.EntryPrice * (1 - pct)
		return trigger, price <= trigger
	})
}

func (m *Manager) protective(
	account *state.Account,
	prices map[string]float64,
	prefix string,
	typ order.Type,
	triggered func(p *state.Position, price float64) (float64, bool),
) []*order.Order {
	now := m.now()
	reason, pctKey := "stop_loss", MetaLossPercentage
	if typ == order.TypeTakeProfit {
		reason, pctKey = "take_profit", MetaProfitPercentage
	}

	var out []*order.Order
	for _, sym := range account.Symbols() {
		p, _ := account.Position(sym)
		price, ok := prices[sym]
		if !ok || price <= 0 || p.EntryPrice <= 0 {
			continue
		}
		trigger, hit := triggered(p, price)
		if !hit {
			continue
		}
		move := (price - p.EntryPrice) / p.EntryPrice
		if p.Side == order.SideSell {
			move = -move
		}
		o, err := order.New(order.Params{
			ID:       order.TriggerID(prefix, sym, now),
			Symbol:   sym,
			Side:     p.Side.Opposite(),
			Type:     typ,
			Quantity: p.Size,
			Price:    price,
			Leverage: p.Leverage,
			Metadata: map[string]any{
				order.MetaReason:       reason,
				order.MetaTriggerPrice: trigger,
				pctKey:                 move,
			},
		})
		if err != nil {
			m.log.Error("build protective order failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		m.log.Warn("protective exit triggered", zap.String("symbol", sym), zap.String("reason", reason),
			zap.Float64("price", price), zap.Float64("trigger", trigger))
		out = append(out, o)
	}
	return out
}
