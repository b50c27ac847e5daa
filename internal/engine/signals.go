package engine

import (
	"context"

	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/internal/strategy"
)

// ProcessSignals converts actionable signals into pending orders priced off currentPrice.
// Signals that fail validation or size below the minimum are skipped.
func (e *Engine) ProcessSignals(ctx context.Context, signals []strategy.Signal, currentPrice float64) []*order.Order {
	var out []*order.Order
	for _, sig := range signals {
		if ctx.Err() != nil {
			break
		}
		if reason, ok := e.validateSignal(sig); !ok {
			e.log.Debug("signal skipped", zap.String("symbol", sig.Symbol), zap.String("type", string(sig.Type)), zap.String("reason", reason))
			continue
		}
		o, err := e.orderFromSignal(sig, currentPrice)
		if err != nil {
			e.log.Error("build order from signal failed", zap.String("symbol", sig.Symbol), zap.Error(err))
			continue
		}
		if o == nil {
			continue
		}
		e.log.Info("order created",
			zap.String("order_id", o.ID),
			zap.String("side", string(o.Side)),
			zap.Float64("quantity", o.Quantity),
			zap.Float64("price", o.Price),
			zap.Float64("leverage", o.Leverage))
		out = append(out, o)
	}
	return out
}

func (e *Engine) validateSignal(sig strategy.Signal) (string, bool) {
	if sig.Type != strategy.SignalBuy && sig.Type != strategy.SignalSell {
		return "not actionable", false
	}
	if sig.Strength <= 0 {
		return "non-positive strength", false
	}
	if sig.Price <= 0 {
		return "non-positive price", false
	}
	return e.checkExposure()
}

// checkExposure applies the local limits to the current account.
func (e *Engine) checkExposure() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDay()

	a := e.account
	l := e.cfg.Limits
	equity := max(a.TotalEquity, 1.0)

	if ratio := a.UsedMargin / equity; l.MaxPositionSize > 0 && ratio > l.MaxPositionSize {
		return "position ratio above limit", false
	}
	if usage := a.UsedMargin / max(a.AvailableBalance, 1.0); l.MaxLeverageUsage > 0 && usage > l.MaxLeverageUsage {
		return "leverage usage above limit", false
	}
	if l.MaxDrawdown > 0 && a.UnrealizedPnL/equity < -l.MaxDrawdown {
		return "drawdown above limit", false
	}
	if l.MaxDailyLoss > 0 && e.dayEquity > 0 && (e.dayEquity-a.TotalEquity)/e.dayEquity > l.MaxDailyLoss {
		return "daily loss above limit", false
	}
	return "", true
}

func (e *Engine) orderFromSignal(sig strategy.Signal, currentPrice float64) (*order.Order, error) {
	side := order.SideBuy
	if sig.Type == strategy.SignalSell {
		side = order.SideSell
	}

	qty := order.Round(e.quantityFor(sig, side, currentPrice), e.cfg.QuantityPrecision)
	if qty < e.cfg.MinOrderSize {
		e.log.Debug("order quantity below minimum", zap.String("symbol", sig.Symbol), zap.Float64("quantity", qty))
		return nil, nil
	}

	return order.New(order.Params{
		ID:       e.ids.Next(),
		Symbol:   sig.Symbol,
		Side:     side,
		Type:     order.TypeMarket,
		Quantity: qty,
		Price:    order.Round(e.priceFor(side, currentPrice), e.cfg.PricePrecision),
		Leverage: e.leverageFor(sig),
		Metadata: map[string]any{
			order.MetaSignalStrength: sig.Strength,
			order.MetaSignalTime:     sig.Timestamp,
			order.MetaStrategy:       sig.Metadata,
		},
	})
}

// quantityFor sizes an order: half size when adding to a position, a sell_ratio share
// when a sell reduces a long, otherwise the strategy's suggestion.
func (e *Engine) quantityFor(sig strategy.Signal, side order.Side, price float64) float64 {
	e.mu.RLock()
	strat := e.strategy
	available := e.account.AvailableBalance
	var (
		posSide order.Side
		posSize float64
	)
	if p, ok := e.account.Position(sig.Symbol); ok {
		posSide, posSize = p.Side, p.Size
	}
	e.mu.RUnlock()

	suggested := strat.CalculatePositionSize(sig, price, available)
	switch {
	case posSize > 0 && posSide == side:
		return suggested * 0.5
	case posSize > 0 && side == order.SideSell:
		ratio := e.cfg.DefaultSellRatio
		if r, ok := sig.Metadata[order.MetaSellRatio].(float64); ok && r > 0 {
			ratio = r
		}
		return min(posSize*ratio, posSize)
	default:
		return suggested
	}
}

// priceFor pads the reference price by the slippage buffer: above for buys, below for sells.
func (e *Engine) priceFor(side order.Side, price float64) float64 {
	if side == order.SideBuy {
		return price * (1 + e.cfg.MaxSlippage)
	}
	return price * (1 - e.cfg.MaxSlippage)
}

// leverageFor interpolates between 1x and the strategy maximum by signal strength when
// dynamic leverage is on, then applies the account's current cap.
func (e *Engine) leverageFor(sig strategy.Signal) float64 {
	e.mu.RLock()
	cfg := e.strategy.Leverage()
	allowed := e.account.MaxLeverageAllowed(cfg.MaxLeverage)
	e.mu.RUnlock()

	lev := cfg.MaxLeverage
	if cfg.DynamicLeverage {
		lev = 1 + (cfg.MaxLeverage-1)*sig.Strength
	}
	lev = min(lev, allowed)
	return min(max(lev, order.MinLeverage), order.MaxLeverage)
}
