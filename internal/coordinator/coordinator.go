// Package coordinator runs the trading control loop: it refreshes market data, checks
// risk, executes protective exits and strategy signals, and owns the session state machine.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leverage-core/internal/engine"
	"leverage-core/internal/events"
	"leverage-core/internal/exchange"
	"leverage-core/internal/monitor"
	"leverage-core/internal/order"
	"leverage-core/internal/risk"
	"leverage-core/internal/strategy"
	"leverage-core/pkg/errors"
)

// Registry holds the collaborators a Coordinator drives. Strategy is optional when the
// engine already carries one.
type Registry struct {
	Exchanges *exchange.Manager
	Strategy  strategy.Strategy
	Engine    *engine.Engine
	Risk      *risk.Manager
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
}

// Config controls the loop.
type Config struct {
	Symbol          string        `yaml:"symbol"`
	UpdateInterval  time.Duration `yaml:"update_interval"`
	PriceHistoryCap int           `yaml:"price_history_cap"`
	MinHistory      int           `yaml:"min_history"`
	CandleBand      float64       `yaml:"candle_band"` // synthetic high/low distance from close
}

// DefaultConfig trades BTCUSDT once a second.
func DefaultConfig() Config {
	return Config{
		Symbol:          "BTCUSDT",
		UpdateInterval:  time.Second,
		PriceHistoryCap: 1000,
		MinHistory:      100,
		CandleBand:      0.01,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Symbol == "" {
		c.Symbol = d.Symbol
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = d.UpdateInterval
	}
	if c.PriceHistoryCap <= 0 {
		c.PriceHistoryCap = d.PriceHistoryCap
	}
	if c.MinHistory <= 0 {
		c.MinHistory = d.MinHistory
	}
	if c.CandleBand <= 0 {
		c.CandleBand = d.CandleBand
	}
	return c
}

// SessionHook observes session start and stop.
type SessionHook func(TradingStatus)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSessionHook registers fn to run after every start and stop.
func WithSessionHook(fn SessionHook) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, fn) }
}

// Coordinator sequences one trading session at a time.
type Coordinator struct {
	reg   Registry
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
	hooks []SessionHook

	mu      sync.RWMutex
	status  TradingStatus
	market  map[string]exchange.MarketData
	history map[string][]exchange.MarketData
	cancel  context.CancelFunc
	done    chan struct{}

	commands chan func(context.Context)
}

// New validates the registry and returns a stopped coordinator.
func New(reg Registry, cfg Config, log *zap.Logger, opts ...Option) (*Coordinator, error) {
	if reg.Exchanges == nil || reg.Engine == nil || reg.Risk == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "registry needs exchanges, engine and risk manager")
	}
	if reg.Bus == nil {
		reg.Bus = events.NewBus()
	}
	if reg.Metrics == nil {
		reg.Metrics = monitor.NewSystemMetrics()
	}
	if reg.Strategy != nil {
		reg.Engine.SetStrategy(reg.Strategy)
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		reg:     reg,
		cfg:     cfg.withDefaults(),
		log:     log.Named("coordinator"),
		now:     time.Now,
		status:  TradingStatus{State: StateStopped},
		market:  make(map[string]exchange.MarketData),
		history: make(map[string][]exchange.MarketData),

		commands: make(chan func(context.Context)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bus returns the event bus the coordinator publishes on.
func (c *Coordinator) Bus() *events.Bus { return c.reg.Bus }

// Config returns the loop configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State
}

func (c *Coordinator) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Coordinator) transitionLocked(to State) error {
	from := c.status.State
	if !from.CanTransition(to) {
		return transitionError(from, to)
	}
	c.status.State = to
	c.log.Info("state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// Start connects the exchanges, seeds market data and spawns the control loop. ctx
// bounds startup only; the loop runs until Stop. On failure the state reverts to stopped.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.transition(StateStarting); err != nil {
		return err
	}
	if err := c.startup(ctx); err != nil {
		c.reg.Exchanges.DisconnectAll(context.WithoutCancel(ctx))
		c.mu.Lock()
		c.status.State = StateStopped
		c.status.LastError = err.Error()
		c.mu.Unlock()
		c.log.Error("startup failed", zap.Error(err))
		return errors.Wrap(errors.ErrCodeStartupFailed, "start trading session", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	now := c.now()
	c.cancel = cancel
	c.done = done
	c.status = TradingStatus{
		State:      StateStarting,
		SessionID:  uuid.NewString(),
		StartTime:  now,
		LastUpdate: now,
	}
	_ = c.transitionLocked(StateRunning)
	status := c.status
	c.mu.Unlock()

	go c.run(loopCtx, done)

	c.log.Info("trading session started",
		zap.String("session_id", status.SessionID),
		zap.String("symbol", c.cfg.Symbol),
		zap.Duration("interval", c.cfg.UpdateInterval))
	c.fireHooks(status)
	return nil
}

func (c *Coordinator) startup(ctx context.Context) error {
	if err := c.reg.Exchanges.ConnectAll(ctx); err != nil {
		return err
	}
	if err := c.refreshMarketData(ctx); err != nil {
		return err
	}
	return nil
}

// Pause suspends the loop body without tearing anything down.
func (c *Coordinator) Pause() error {
	if err := c.transition(StatePaused); err != nil {
		return err
	}
	c.log.Info("trading paused")
	return nil
}

// Resume continues a paused session.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.State != StatePaused {
		return transitionError(c.status.State, StateRunning)
	}
	_ = c.transitionLocked(StateRunning)
	c.log.Info("trading resumed")
	return nil
}

// Stop cancels the loop, waits for it, purges expired orders and disconnects every
// exchange. If ctx ends before the loop exits, teardown still completes and the
// returned error carries the shutdown failure.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.stop(ctx, false)
}

func (c *Coordinator) stop(ctx context.Context, fromLoop bool) error {
	c.mu.Lock()
	if err := c.transitionLocked(StateShuttingDown); err != nil {
		c.mu.Unlock()
		return err
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	var shutdownErr error
	if cancel != nil {
		cancel()
	}
	if done != nil && !fromLoop {
		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = errors.Wrap(errors.ErrCodeShutdownFailed, "control loop did not exit", ctx.Err())
		}
	}

	c.expireOrders(context.WithoutCancel(ctx))
	c.reg.Exchanges.DisconnectAll(context.WithoutCancel(ctx))

	c.mu.Lock()
	now := c.now()
	if !c.status.StartTime.IsZero() {
		c.status.Uptime = now.Sub(c.status.StartTime)
	}
	c.status.LastUpdate = now
	if shutdownErr != nil {
		c.status.LastError = shutdownErr.Error()
	}
	_ = c.transitionLocked(StateStopped)
	status := c.status
	c.mu.Unlock()

	c.log.Info("trading session stopped",
		zap.String("session_id", status.SessionID),
		zap.Duration("uptime", status.Uptime),
		zap.Int("processed_signals", status.ProcessedSignals),
		zap.Int("executed_orders", status.ExecutedOrders),
		zap.Int("failed_orders", status.FailedOrders))
	c.fireHooks(status)
	return shutdownErr
}

// EmergencyStop cancels every pending order, at the exchange where it was forwarded,
// then stops the session.
func (c *Coordinator) EmergencyStop(ctx context.Context) error {
	return c.emergencyStop(ctx, false)
}

func (c *Coordinator) emergencyStop(ctx context.Context, fromLoop bool) error {
	if err := c.transition(StateEmergency); err != nil {
		return err
	}
	c.log.Error("emergency stop")
	if fromLoop {
		c.cancelPending(ctx)
	} else if err := c.onLoop(ctx, c.cancelPending); err != nil {
		c.log.Error("cancel pending orders failed", zap.Error(err))
	}
	return c.stop(ctx, fromLoop)
}

func (c *Coordinator) cancelPending(ctx context.Context) {
	for _, o := range c.reg.Engine.PendingOrders() {
		if err := c.cancelOne(ctx, o); err != nil {
			c.log.Error("cancel order failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		c.log.Warn("order cancelled", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))
	}
}

// cancelOne cancels o at the exchange it was forwarded to, if any, and then locally. An
// exchange failure is logged and does not block the local cancel.
func (c *Coordinator) cancelOne(ctx context.Context, o *order.Order) error {
	if err := c.cancelAtVenue(ctx, o); err != nil {
		c.log.Error("exchange cancel failed",
			zap.String("order_id", o.ID),
			zap.String("exchange_order_id", o.ExchangeOrderID),
			zap.Error(err))
	}
	return c.reg.Engine.CancelOrder(o.ID)
}

// Session runs fn inside a started session and always stops it afterwards, also when
// fn returns an error or panics. A panic is re-raised after the stop.
func (c *Coordinator) Session(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		r := recover()
		if c.State().Active() {
			if stopErr := c.Stop(context.WithoutCancel(ctx)); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
		}
		if r != nil {
			panic(r)
		}
	}()
	return fn(ctx)
}

// SetStrategy swaps the strategy used from the next tick on.
func (c *Coordinator) SetStrategy(s strategy.Strategy) error {
	if s == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "strategy is nil")
	}
	c.reg.Engine.SetStrategy(s)
	c.log.Info("strategy changed", zap.String("strategy", s.Name()))
	return nil
}

// UpdateRiskLimits applies fn to the risk limits and returns the result.
func (c *Coordinator) UpdateRiskLimits(fn func(*risk.RiskLimits)) risk.RiskLimits {
	limits := c.reg.Risk.UpdateLimits(fn)
	c.log.Info("risk limits updated", zap.String("limits", fmt.Sprintf("%+v", limits)))
	return limits
}

func (c *Coordinator) fireHooks(status TradingStatus) {
	for _, fn := range c.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("session hook panicked", zap.Any("panic", r))
				}
			}()
			fn(status)
		}()
	}
}
