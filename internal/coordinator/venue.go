package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"leverage-core/internal/events"
	"leverage-core/internal/exchange"
	"leverage-core/internal/order"
	"leverage-core/pkg/errors"
)

var errNotRunning = errors.New(errors.ErrCodeInvalidStateTransition, "trading session is not running")

// submit runs fn on the control-loop goroutine between ticks and waits for it to finish,
// so operator commands never touch the ledger concurrently with the loop. It fails when no
// session loop is running.
func (c *Coordinator) submit(ctx context.Context, fn func(ctx context.Context)) error {
	c.mu.RLock()
	loopDone := c.done
	active := c.status.State.Active()
	c.mu.RUnlock()
	if !active || loopDone == nil {
		return errNotRunning
	}

	ran := make(chan struct{})
	cmd := func(loopCtx context.Context) {
		defer close(ran)
		fn(loopCtx)
	}
	select {
	case c.commands <- cmd:
	case <-loopDone:
		return errNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

// onLoop is submit for commands that are also valid outside a session: with no loop
// running, fn runs on the caller's goroutine.
func (c *Coordinator) onLoop(ctx context.Context, fn func(ctx context.Context)) error {
	err := c.submit(ctx, fn)
	if errors.Is(err, errNotRunning) {
		fn(ctx)
		return nil
	}
	return err
}

func (c *Coordinator) runCommand(ctx context.Context, cmd func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError("command", fmt.Errorf("panic: %v", r))
		}
	}()
	cmd(ctx)
}

// reconcileOrders polls the venue for every open forwarded order and books fills that
// arrived since the last poll. A failed poll leaves the order as it is; the next tick
// asks again.
func (c *Coordinator) reconcileOrders(ctx context.Context) {
	open := c.reg.Engine.VenueOrders()
	if len(open) == 0 {
		return
	}
	ex, err := c.reg.Exchanges.Default()
	if err != nil {
		c.log.Warn("cannot reconcile orders", zap.Error(err))
		return
	}
	for _, o := range open {
		if ctx.Err() != nil {
			return
		}
		c.reconcileOne(ctx, ex, o)
	}
}

func (c *Coordinator) reconcileOne(ctx context.Context, ex exchange.Exchange, o *order.Order) {
	report, err := ex.GetOrderStatus(ctx, o.ExchangeOrderID, o.Symbol)
	if err != nil {
		c.log.Warn("order status unknown",
			zap.String("order_id", o.ID),
			zap.String("exchange_order_id", o.ExchangeOrderID),
			zap.Error(err))
		return
	}
	updated, booked, err := c.reg.Engine.ApplyVenueStatus(o.ID, report)
	if err != nil {
		c.log.Error("apply venue status failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	if booked == 0 && updated.Status == o.Status {
		return
	}

	filled := updated.Status == order.StatusFilled
	c.mu.Lock()
	switch updated.Status {
	case order.StatusFilled:
		c.status.ExecutedOrders++
	case order.StatusFailed:
		c.status.FailedOrders++
	}
	c.mu.Unlock()
	switch updated.Status {
	case order.StatusFilled:
		c.reg.Metrics.IncrementExecuted()
	case order.StatusFailed:
		c.reg.Metrics.IncrementFailed()
	}
	c.log.Info("order reconciled",
		zap.String("order_id", o.ID),
		zap.String("status", string(updated.Status)),
		zap.Float64("booked", booked))
	c.reg.Bus.OrderExecuted.Publish(events.OrderExecuted{Order: updated, Success: filled, Source: SourceVenue})
}

// expireOrders cancels open orders older than the order timeout. An order live at a venue
// is cancelled there first and only closed locally once the venue confirms; otherwise it
// stays open and the next pass retries.
func (c *Coordinator) expireOrders(ctx context.Context) {
	var expired []string
	for _, o := range c.reg.Engine.ExpiredVenueOrders(c.now()) {
		ex, err := c.reg.Exchanges.Default()
		if err != nil {
			c.log.Warn("cannot cancel expired order", zap.String("order_id", o.ID), zap.Error(err))
			break
		}
		ok, err := ex.CancelOrder(ctx, o.ExchangeOrderID, o.Symbol)
		if err != nil || !ok {
			// A refused cancel usually means the venue already finished the order.
			c.log.Warn("expired order not cancelled at venue",
				zap.String("order_id", o.ID),
				zap.String("exchange_order_id", o.ExchangeOrderID),
				zap.Error(err))
			c.reconcileOne(ctx, ex, o)
			continue
		}
		// book anything filled before the cancel landed
		c.reconcileOne(ctx, ex, o)
		if err := c.reg.Engine.CancelOrder(o.ID); err == nil {
			expired = append(expired, o.ID)
		} else if cur, found := c.reg.Engine.Order(o.ID); found && cur.Status == order.StatusCancelled {
			expired = append(expired, o.ID)
		}
	}
	expired = append(expired, c.reg.Engine.CleanupExpiredOrders(c.now())...)
	if len(expired) > 0 {
		c.log.Info("expired orders purged", zap.Strings("order_ids", expired))
	}
}

// cancelAtVenue cancels o at the exchange it was forwarded to. Orders never forwarded
// have nothing to cancel there.
func (c *Coordinator) cancelAtVenue(ctx context.Context, o *order.Order) error {
	if o.ExchangeOrderID == "" {
		return nil
	}
	ex, err := c.reg.Exchanges.Default()
	if err != nil {
		return err
	}
	ok, err := ex.CancelOrder(ctx, o.ExchangeOrderID, o.Symbol)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrCodeExchangeRequestFailed, "exchange refused cancel")
	}
	return nil
}
