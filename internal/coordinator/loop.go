package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/events"
	"leverage-core/internal/monitor"
	"leverage-core/internal/order"
	"leverage-core/internal/strategy"
	"leverage-core/pkg/errors"
)

// Order sources reported on order_executed.
const (
	SourceSignal = "signal"
	SourceRisk   = "risk"
	SourceManual = "manual"
	SourceClose  = "close"
	// SourceVenue marks fills and closes learned from polling the venue.
	SourceVenue = "venue"
)

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		if !c.iterate(ctx) {
			return
		}
		if !c.idle(ctx, ticker.C) {
			return
		}
	}
}

// idle serves submitted commands until the next tick is due. It reports false once ctx ends.
func (c *Coordinator) idle(ctx context.Context, tick <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-c.commands:
			c.runCommand(ctx, cmd)
		case <-tick:
			return true
		}
	}
}

// iterate runs one loop pass and reports whether the loop should continue.
func (c *Coordinator) iterate(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	now := c.now()
	c.status.Uptime = now.Sub(c.status.StartTime)
	c.status.LastUpdate = now
	state := c.status.State
	c.mu.Unlock()

	if state != StateRunning {
		return true
	}
	if c.reg.Risk.EmergencyMode() {
		c.log.Error("risk manager in emergency mode, stopping")
		if err := c.emergencyStop(ctx, true); err != nil {
			c.reportError("emergency_stop", err)
		}
		return false
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.reportError("tick", fmt.Errorf("panic: %v", r))
			}
		}()
		if err := c.tick(ctx); err != nil {
			c.reportError("tick", err)
		}
	}()
	return true
}

// tick runs the fixed per-tick pipeline: market data, risk check, protective exits,
// signals, venue reconciliation, cleanup.
func (c *Coordinator) tick(ctx context.Context) error {
	timer := monitor.NewTimer(c.reg.Metrics.TickLatency)
	defer timer.Stop()
	defer c.reg.Metrics.RecordTick(c.now())

	if err := c.refreshMarketData(ctx); err != nil {
		return err
	}
	prices := c.prices()

	c.checkRisk(prices)
	c.runProtectiveExits(ctx, prices)
	if err := c.runSignals(ctx, prices); err != nil {
		return err
	}

	c.reconcileOrders(ctx)
	c.expireOrders(ctx)
	return nil
}

// refreshMarketData pulls the configured symbol from the default exchange and feeds it to
// the history, the risk manager and the engine.
func (c *Coordinator) refreshMarketData(ctx context.Context) error {
	ex, err := c.reg.Exchanges.Default()
	if err != nil {
		return err
	}
	md, err := ex.GetMarketData(ctx, c.cfg.Symbol)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeMarketDataMissing, err, "market data for %s", c.cfg.Symbol)
	}
	if md.Price <= 0 {
		return errors.Newf(errors.ErrCodeMarketDataMissing, "non-positive price for %s", c.cfg.Symbol)
	}
	if md.Timestamp.IsZero() {
		md.Timestamp = c.now()
	}

	c.mu.Lock()
	c.market[md.Symbol] = md
	h := append(c.history[md.Symbol], md)
	if over := len(h) - c.cfg.PriceHistoryCap; over > 0 {
		h = append(h[:0:0], h[over:]...)
	}
	c.history[md.Symbol] = h
	c.mu.Unlock()

	c.reg.Risk.UpdateMarketData(md.Symbol, md.Price, md.Volume, md.Timestamp)
	c.reg.Engine.UpdateMarketPrices(map[string]float64{md.Symbol: md.Price})
	return nil
}

func (c *Coordinator) prices() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.market))
	for sym, md := range c.market {
		out[sym] = md.Price
	}
	return out
}

func (c *Coordinator) checkRisk(prices map[string]float64) {
	alerts := c.reg.Risk.CheckRiskViolations(c.reg.Engine.Account(), prices)
	for _, a := range alerts {
		c.reg.Bus.RiskAlert.Publish(events.RiskAlert{Alert: a})
	}
}

// runProtectiveExits executes the risk manager's stop-loss/take-profit orders, then the
// strategy's own exits for symbols the risk manager did not already close this tick.
func (c *Coordinator) runProtectiveExits(ctx context.Context, prices map[string]float64) {
	acct := c.reg.Engine.Account()
	exits := append(c.reg.Risk.StopLossOrders(acct, prices), c.reg.Risk.TakeProfitOrders(acct, prices)...)
	if c.reg.Engine.Strategy() != nil {
		exits = append(exits, c.reg.Engine.CheckStopLossTakeProfit(prices)...)
	}

	seen := make(map[string]struct{}, len(exits))
	for _, o := range exits {
		if ctx.Err() != nil {
			return
		}
		if _, dup := seen[o.Symbol]; dup {
			continue
		}
		seen[o.Symbol] = struct{}{}
		c.log.Warn("protective exit",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("reason", o.Reason()))
		c.execute(ctx, o, SourceRisk)
	}
}

// runSignals asks the strategy for signals once enough history is available, turns each
// into orders and executes the ones the risk manager admits.
func (c *Coordinator) runSignals(ctx context.Context, prices map[string]float64) error {
	strat := c.reg.Engine.Strategy()
	if strat == nil {
		return nil
	}
	window, ok := c.window(c.cfg.Symbol)
	if !ok {
		return nil
	}
	price := prices[c.cfg.Symbol]

	timer := monitor.NewTimer(c.reg.Metrics.StrategyLatency)
	signals := strat.GenerateSignals(window)
	timer.Stop()
	if len(signals) == 0 {
		return nil
	}

	c.mu.Lock()
	c.status.ProcessedSignals += len(signals)
	c.mu.Unlock()
	c.reg.Metrics.AddSignals(len(signals))

	for _, sig := range signals {
		if ctx.Err() != nil {
			return nil
		}
		orders := c.reg.Engine.ProcessSignals(ctx, []strategy.Signal{sig}, price)
		c.reg.Bus.SignalGenerated.Publish(events.SignalGenerated{Signal: sig, Orders: len(orders)})
		for _, o := range orders {
			c.admitAndExecute(ctx, o, prices, SourceSignal)
		}
	}
	return nil
}

// window builds the OHLCV series the strategy sees from the recorded snapshots. Each
// snapshot becomes one candle with a synthetic high/low band around its price.
func (c *Coordinator) window(symbol string) (strategy.OHLCV, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[symbol]
	if len(h) < c.cfg.MinHistory {
		return strategy.OHLCV{}, false
	}
	out := strategy.OHLCV{Symbol: symbol, Candles: make([]strategy.Candle, len(h))}
	for i, md := range h {
		out.Candles[i] = strategy.Candle{
			Open:   md.Price,
			High:   md.Price * (1 + c.cfg.CandleBand),
			Low:    md.Price * (1 - c.cfg.CandleBand),
			Close:  md.Price,
			Volume: md.Volume,
		}
	}
	return out, true
}

// admitAndExecute runs admission control and executes o when it passes. It reports
// whether o was filled.
func (c *Coordinator) admitAndExecute(ctx context.Context, o *order.Order, prices map[string]float64, source string) bool {
	if ok, reason := c.reg.Risk.ValidateOrder(o, c.reg.Engine.Account(), prices); !ok {
		c.log.Warn("order rejected by risk manager",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("reason", reason))
		c.reg.Metrics.IncrementRejected()
		c.mu.Lock()
		c.status.FailedOrders++
		c.mu.Unlock()
		return false
	}
	return c.execute(ctx, o, source)
}

func (c *Coordinator) execute(ctx context.Context, o *order.Order, source string) bool {
	timer := monitor.NewTimer(c.reg.Metrics.OrderLatency)
	filled := c.reg.Engine.ExecuteOrder(ctx, o)
	timer.Stop()

	c.mu.Lock()
	switch {
	case filled:
		c.status.ExecutedOrders++
	case o.Status == order.StatusFailed:
		c.status.FailedOrders++
	}
	c.mu.Unlock()

	switch {
	case filled:
		c.reg.Metrics.IncrementExecuted()
	case o.Status == order.StatusFailed:
		c.reg.Metrics.IncrementFailed()
	}
	c.reg.Bus.OrderExecuted.Publish(events.OrderExecuted{Order: o.Clone(), Success: filled, Source: source})
	return filled
}

func (c *Coordinator) reportError(where string, err error) {
	c.log.Error("control loop error", zap.String("where", where), zap.Error(err))
	c.reg.Metrics.IncrementErrors()
	c.mu.Lock()
	c.status.LastError = err.Error()
	c.mu.Unlock()
	c.reg.Bus.ErrorOccurred.Publish(events.ErrorOccurred{Where: where, Error: err.Error(), At: c.now()})
}
