package coordinator

import (
	"context"

	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/pkg/errors"
)

// ManualOrder runs an operator order through admission control and executes it on the
// control loop. It reports whether the order filled, or the rejection reason.
func (c *Coordinator) ManualOrder(ctx context.Context, o *order.Order) (bool, string) {
	if o == nil {
		return false, "order is nil"
	}
	filled, reason := false, "execution failed"
	if err := c.submit(ctx, func(ctx context.Context) {
		filled, reason = c.manualOrder(ctx, o)
	}); err != nil {
		if errors.Is(err, errNotRunning) {
			return false, errNotRunning.Message
		}
		return false, err.Error()
	}
	return filled, reason
}

func (c *Coordinator) manualOrder(ctx context.Context, o *order.Order) (bool, string) {
	prices := c.prices()
	if _, ok := prices[o.Symbol]; !ok && o.Price > 0 {
		prices[o.Symbol] = o.Price
	}
	if ok, reason := c.reg.Risk.ValidateOrder(o, c.reg.Engine.Account(), prices); !ok {
		c.log.Warn("manual order rejected", zap.String("order_id", o.ID), zap.String("reason", reason))
		c.reg.Metrics.IncrementRejected()
		return false, reason
	}
	if !c.execute(ctx, o, SourceManual) {
		return false, "execution failed"
	}
	return true, ""
}

// ClosePosition sends a market order closing the whole position on symbol at the last
// known price. Closing bypasses admission control. During a session the close runs on the
// control loop.
func (c *Coordinator) ClosePosition(ctx context.Context, symbol string) (filled bool, err error) {
	if runErr := c.onLoop(ctx, func(ctx context.Context) {
		filled, err = c.closePosition(ctx, symbol)
	}); runErr != nil {
		return false, runErr
	}
	return filled, err
}

func (c *Coordinator) closePosition(ctx context.Context, symbol string) (bool, error) {
	pos, ok := c.reg.Engine.Account().Position(symbol)
	if !ok {
		return false, errors.Newf(errors.ErrCodePositionNotFound, "no open position for %s", symbol)
	}
	price := pos.CurrentPrice
	c.mu.RLock()
	if md, ok := c.market[symbol]; ok && md.Price > 0 {
		price = md.Price
	}
	c.mu.RUnlock()
	if price <= 0 {
		price = pos.EntryPrice
	}

	o, err := order.New(order.Params{
		ID:       order.TriggerID("CLOSE", symbol, c.now()),
		Symbol:   symbol,
		Side:     pos.Side.Opposite(),
		Type:     order.TypeMarket,
		Quantity: pos.Size,
		Price:    price,
		Leverage: pos.Leverage,
		Metadata: map[string]any{order.MetaReason: "manual_close"},
	})
	if err != nil {
		return false, err
	}
	filled := c.execute(ctx, o, SourceClose)
	c.log.Info("close position",
		zap.String("symbol", symbol),
		zap.Float64("size", pos.Size),
		zap.Bool("filled", filled))
	return filled, nil
}

// CloseAllPositions closes every open position and returns how many closed.
func (c *Coordinator) CloseAllPositions(ctx context.Context) int {
	closed := 0
	if err := c.onLoop(ctx, func(ctx context.Context) {
		for _, sym := range c.reg.Engine.Account().Symbols() {
			ok, err := c.closePosition(ctx, sym)
			if err != nil {
				c.log.Error("close position failed", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			if ok {
				closed++
			}
		}
	}); err != nil {
		c.log.Error("close all positions failed", zap.Error(err))
	}
	return closed
}

// CancelOrder cancels one recorded order, at the exchange first when it was forwarded.
func (c *Coordinator) CancelOrder(ctx context.Context, id string) (err error) {
	if runErr := c.onLoop(ctx, func(ctx context.Context) {
		o, ok := c.reg.Engine.Order(id)
		if !ok {
			err = errors.Newf(errors.ErrCodeDataNotFound, "order %s not found", id)
			return
		}
		err = c.cancelOne(ctx, o)
	}); runErr != nil {
		return runErr
	}
	if err == nil {
		c.log.Info("order cancelled", zap.String("order_id", id))
	}
	return err
}
