package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leverage-core/internal/events"
	"leverage-core/internal/exchange"
	"leverage-core/internal/order"
	"leverage-core/internal/state"
	"leverage-core/pkg/errors"
)

// ExecuteOrder checks o against the account, sends it to the executor and books whatever
// the venue filled. It reports whether the order is now completely filled; a partial fill
// is booked and the order stays open for reconciliation. Every order passed in is
// recorded and counted, whatever the outcome.
func (e *Engine) ExecuteOrder(ctx context.Context, o *order.Order) (filled bool) {
	log := e.log.With(zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))

	defer func() {
		if r := recover(); r != nil {
			log.Error("order execution panicked", zap.Any("panic", r))
			_ = o.Fail()
			e.countFailure()
			filled = false
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		e.record(o)
		e.stats.TotalOrders++
	}()

	if reason, ok := e.preExecutionCheck(o); !ok {
		log.Warn("order rejected before execution", zap.String("reason", reason))
		_ = o.Fail()
		e.countFailure()
		return false
	}

	beforeQty, beforePx := o.FilledQuantity, o.FilledPrice
	exec, err := e.executor.Execute(ctx, o)
	if err != nil || exec.Status == order.StatusFailed || exec.Status == order.StatusCancelled {
		log.Error("order execution failed", zap.String("status", string(exec.Status)), zap.Error(err))
		if !o.Status.Terminal() {
			_ = o.Fail()
		}
		e.countFailure()
		return false
	}
	if exec.ExchangeOrderID != "" {
		o.ExchangeOrderID = exec.ExchangeOrderID
	}

	price := exec.Price
	if price <= 0 {
		price = o.Price
	}
	// Venue adapters may already have recorded the fill on o; only add what is missing.
	switch {
	case exec.Status == order.StatusFilled && o.Status != order.StatusFilled:
		err = o.Fill(price)
	case exec.Status == order.StatusPartial && exec.Quantity > o.FilledQuantity:
		err = o.UpdateFill(exec.Quantity-o.FilledQuantity, price)
	}
	if err != nil {
		log.Error("record fill failed", zap.Error(err))
		e.countFailure()
		return false
	}

	f, ok := fillDelta(o, beforeQty, beforePx)
	if !ok {
		log.Info("order accepted, awaiting fill", zap.String("exchange_order_id", o.ExchangeOrderID))
		return false
	}
	res, pos := e.book(o, f, exec.Fee)

	msg := "order filled"
	if o.Status == order.StatusPartial {
		msg = "order partially filled"
	}
	log.Info(msg,
		zap.String("side", string(o.Side)),
		zap.Float64("quantity", f.Quantity),
		zap.Float64("filled_total", o.FilledQuantity),
		zap.Float64("price", f.Price),
		zap.String("fill", string(res.Kind)),
		zap.Float64("realized_pnl", res.RealizedPnL))

	e.publishPosition(o.Symbol, res, pos)
	return o.Status == order.StatusFilled
}

// ApplyVenueStatus brings the recorded order id in line with a venue status report. Any
// quantity filled since the last update is booked against the account, and a venue-side
// cancel or rejection closes the order. It returns a copy of the updated order and the
// quantity booked.
func (e *Engine) ApplyVenueStatus(id string, r exchange.OrderStatusReport) (*order.Order, float64, error) {
	o, res, pos, booked, err := e.applyVenueStatus(id, r)
	if err != nil {
		return nil, 0, err
	}
	if booked > 0 {
		e.log.Info("venue fill booked",
			zap.String("order_id", id),
			zap.Float64("quantity", booked),
			zap.String("status", string(o.Status)))
		e.publishPosition(o.Symbol, res, pos)
	}
	return o, booked, nil
}

func (e *Engine) applyVenueStatus(id string, r exchange.OrderStatusReport) (*order.Order, state.FillResult, *state.Position, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return nil, state.FillResult{}, nil, 0, errors.Newf(errors.ErrCodeDataNotFound, "order %s not found", id)
	}
	if !o.Status.Open() {
		return o.Clone(), state.FillResult{}, nil, 0, nil
	}

	var (
		res    state.FillResult
		pos    *state.Position
		booked float64
	)
	beforeQty, beforePx := o.FilledQuantity, o.FilledPrice
	if r.FilledQuantity > beforeQty {
		// the report carries the running average; recover the price of the new slice
		delta := r.FilledQuantity - beforeQty
		px := (r.AvgPrice*r.FilledQuantity - beforePx*beforeQty) / delta
		if px <= 0 {
			px = r.AvgPrice
		}
		if px <= 0 {
			px = o.Price
		}
		if err := o.UpdateFill(delta, px); err != nil {
			return nil, state.FillResult{}, nil, 0, err
		}
		if f, ok := fillDelta(o, beforeQty, beforePx); ok {
			res, pos = e.bookLocked(o, f, 0)
			booked = f.Quantity
		}
	}

	switch r.Status {
	case order.StatusCancelled:
		_ = o.Cancel()
	case order.StatusFailed:
		if o.Fail() == nil {
			e.stats.FailedOrders++
		}
	}
	return o.Clone(), res, pos, booked, nil
}

// fillDelta is the slice of o filled since it stood at beforeQty at an average of beforePx.
func fillDelta(o *order.Order, beforeQty, beforePx float64) (state.Fill, bool) {
	qty := o.FilledQuantity - beforeQty
	if qty <= 0 {
		return state.Fill{}, false
	}
	px := (o.FilledPrice*o.FilledQuantity - beforePx*beforeQty) / qty
	if px <= 0 {
		px = o.FilledPrice
	}
	return state.Fill{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: qty,
		Price:    px,
		Leverage: o.Leverage,
		At:       o.UpdatedAt,
	}, true
}

// book applies f to the account and returns the outcome with a copy of the position.
func (e *Engine) book(o *order.Order, f state.Fill, fee float64) (state.FillResult, *state.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bookLocked(o, f, fee)
}

func (e *Engine) bookLocked(o *order.Order, f state.Fill, fee float64) (state.FillResult, *state.Position) {
	res := e.account.Apply(f)
	e.stats.TotalVolume += f.Quantity * f.Price
	e.stats.TotalFees += fee
	if o.Status == order.StatusFilled {
		e.stats.SuccessfulOrders++
	}
	var pos *state.Position
	if p, ok := e.account.Position(f.Symbol); ok {
		cp := *p
		pos = &cp
	}
	return res, pos
}

func (e *Engine) countFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.FailedOrders++
}

func (e *Engine) publishPosition(symbol string, res state.FillResult, pos *state.Position) {
	if e.bus != nil {
		e.bus.PositionUpdated.Publish(events.PositionUpdated{Symbol: symbol, Kind: res.Kind, Position: pos})
	}
}

// preExecutionCheck requires a positive price, enough free balance for the margin the
// order adds, and a resulting position within MaxPositionSize of equity. An order that
// only reduces the position adds no margin.
func (e *Engine) preExecutionCheck(o *order.Order) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if o.Price <= 0 {
		return "non-positive price", false
	}

	newSize, opening := o.Quantity, o.Quantity
	if p, ok := e.account.Position(o.Symbol); ok {
		if p.Side == o.Side {
			newSize = p.Size + o.Quantity
		} else {
			newSize = abs(p.Size - o.Quantity)
			opening = max(0, o.Quantity-p.Size)
		}
	}
	if margin := o.RequiredMargin() * opening / o.Quantity; margin > e.account.AvailableBalance {
		return fmt.Sprintf("required margin %.2f exceeds available %.2f", margin, e.account.AvailableBalance), false
	}
	if limit := e.account.TotalEquity * e.cfg.Limits.MaxPositionSize; e.cfg.Limits.MaxPositionSize > 0 && newSize*o.Price > limit {
		return fmt.Sprintf("position notional %.2f exceeds %.2f", newSize*o.Price, limit), false
	}
	return "", true
}

// CheckStopLossTakeProfit asks the strategy whether any held position should be exited
// at the given prices and returns full-size reducing orders. Stop-loss wins over take-profit.
func (e *Engine) CheckStopLossTakeProfit(prices map[string]float64) []*order.Order {
	e.mu.RLock()
	strat := e.strategy
	positions := make(map[string]state.Position, len(e.account.Positions))
	for sym, p := range e.account.Positions {
		positions[sym] = *p
	}
	e.mu.RUnlock()

	var out []*order.Order
	for _, sym := range sortedKeys(positions) {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			continue
		}
		p := positions[sym]

		var (
			typ    order.Type
			reason string
		)
		switch {
		case strat.ShouldStopLoss(price):
			typ, reason = order.TypeStopLoss, "stop_loss"
		case strat.ShouldTakeProfit(price):
			typ, reason = order.TypeTakeProfit, "take_profit"
		default:
			continue
		}

		o, err := order.New(order.Params{
			ID:       e.ids.Next(),
			Symbol:   sym,
			Side:     p.Side.Opposite(),
			Type:     typ,
			Quantity: p.Size,
			Price:    price,
			Leverage: p.Leverage,
			Metadata: map[string]any{order.MetaReason: reason},
		})
		if err != nil {
			e.log.Error("build exit order failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		e.log.Warn("exit triggered", zap.String("symbol", sym), zap.String("reason", reason), zap.Float64("price", price))
		out = append(out, o)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
