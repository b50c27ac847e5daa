// Package risk computes account risk metrics, admits or rejects orders against the
// configured limits, raises alerts and tracks the emergency state.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leverage-core/internal/order"
	"leverage-core/internal/state"
)

const (
	marketHistoryLen  = 100
	metricsHistoryLen = 1000
	alertHistoryLen   = 500
)

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the risk manager. It never mutates the accounts it is given.
type Manager struct {
	mu     sync.RWMutex
	limits RiskLimits
	log    *zap.Logger
	now    func() time.Time

	market       map[string][]marketPoint
	history      []RiskMetrics
	current      RiskMetrics
	active       []*RiskAlert
	alertHistory []RiskAlert
	listeners    []func(RiskAlert)

	emergency bool
	halted    bool
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits RiskLimits, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		limits: limits,
		log:    log.Named("risk"),
		now:    time.Now,
		market: make(map[string][]marketPoint),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log.Info("risk manager initialised",
		zap.Float64("max_leverage_usage", limits.MaxLeverageUsage),
		zap.Float64("max_drawdown", limits.MaxDrawdown),
		zap.Float64("stop_loss", limits.DefaultStopLoss),
		zap.Float64("take_profit", limits.DefaultTakeProfit))
	return m
}

// OnAlert registers fn to be called for every raised alert. fn runs on the caller's
// goroutine; a panic inside it is logged and swallowed.
func (m *Manager) OnAlert(fn func(RiskAlert)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// UpdateMarketData appends a price/volume sample for symbol.
func (m *Manager) UpdateMarketData(symbol string, price, volume float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.market[symbol] = appendBounded(m.market[symbol], marketPoint{price: price, volume: volume, at: at}, marketHistoryLen)
}

// CalculateRiskMetrics computes and records a snapshot for account at prices.
func (m *Manager) CalculateRiskMetrics(account *state.Account, prices map[string]float64) RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(m.metricsLocked(account, prices))
}

// CheckRiskViolations recomputes metrics and raises one alert per breached limit.
// Critical margin calls switch on emergency mode; critical drawdowns halt trading.
func (m *Manager) CheckRiskViolations(account *state.Account, prices map[string]float64) []RiskAlert {
	m.mu.Lock()
	metrics := m.recordLocked(m.metricsLocked(account, prices))
	l := m.limits

	var raised []RiskAlert
	add := func(typ AlertType, level RiskLevel, cur, threshold float64, format string) {
		raised = append(raised, RiskAlert{
			Type:         typ,
			Level:        level,
			Message:      fmt.Sprintf(format, cur, threshold),
			CurrentValue: someFloat(cur),
			Threshold:    someFloat(threshold),
			Timestamp:    metrics.Timestamp,
		})
	}

	if metrics.LeverageRatio > l.MaxLeverageUsage {
		add(AlertLeverage, LevelHigh, metrics.LeverageRatio, l.MaxLeverageUsage, "leverage ratio %.2f exceeds %.2f")
	}
	if metrics.CurrentDrawdown > l.MaxDrawdown {
		level := LevelHigh
		if metrics.CurrentDrawdown > l.MaxDrawdown*l.CriticalDrawdownMultiple {
			level = LevelCritical
		}
		add(AlertDrawdown, level, metrics.CurrentDrawdown, l.MaxDrawdown, "drawdown %.2f exceeds %.2f")
	}
	if metrics.LargestPositionRatio > l.MaxPositionSize {
		add(AlertPosition, LevelMedium, metrics.LargestPositionRatio, l.MaxPositionSize, "largest position ratio %.2f exceeds %.2f")
	}
	if metrics.MarginRatio < l.MarginCallRatio {
		add(AlertMarginCall, LevelCritical, metrics.MarginRatio, l.MarginCallRatio, "margin ratio %.2f below %.2f")
	}
	if metrics.LiquidityScore < l.MinLiquidityScore {
		add(AlertLiquidity, LevelMedium, metrics.LiquidityScore, l.MinLiquidityScore, "liquidity score %.2f below %.2f")
	}
	if metrics.PortfolioCorrelation > l.MaxCorrelation {
		add(AlertCorrelation, LevelMedium, metrics.PortfolioCorrelation, l.MaxCorrelation, "portfolio correlation %.2f exceeds %.2f")
	}

	for i := range raised {
		raised[i] = m.handleLocked(raised[i])
	}
	listeners := append([]func(RiskAlert){}, m.listeners...)
	m.mu.Unlock()

	for _, a := range raised {
		m.notify(listeners, a)
	}
	return raised
}

// handleLocked merges a into the active set and escalates critical alerts. The
// returned alert carries the ID of the active alert it was merged into.
func (m *Manager) handleLocked(a RiskAlert) RiskAlert {
	var existing *RiskAlert
	for _, act := range m.active {
		if act.key() == a.key() {
			existing = act
			break
		}
	}
	if existing != nil {
		existing.CurrentValue = a.CurrentValue
		existing.Timestamp = a.Timestamp
		existing.Message = a.Message
		existing.Level = a.Level
		a = *existing
	} else {
		a.ID = uuid.NewString()
		cp := a
		m.active = append(m.active, &cp)
		m.log.Warn("risk alert raised", zap.String("type", string(a.Type)),
			zap.String("level", string(a.Level)), zap.String("message", a.Message))
	}
	m.alertHistory = appendBounded(m.alertHistory, a, alertHistoryLen)

	if a.Level == LevelCritical {
		switch a.Type {
		case AlertMarginCall:
			if !m.emergency {
				m.log.Error("entering emergency mode", zap.String("message", a.Message))
			}
			m.emergency = true
		case AlertDrawdown:
			if !m.halted {
				m.log.Error("trading halted", zap.String("message", a.Message))
			}
			m.halted = true
		}
	}
	return a
}

func (m *Manager) notify(listeners []func(RiskAlert), a RiskAlert) {
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("alert listener panicked", zap.Any("panic", r), zap.String("alert", a.ID))
				}
			}()
			fn(a)
		}()
	}
}

// ValidateOrder admits or rejects o. The order is booked on a simulated copy of the
// account with the same fill algorithm the engine uses; account is left untouched.
func (m *Manager) ValidateOrder(o *order.Order, account *state.Account, prices map[string]float64) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.halted {
		return false, "trading halted"
	}
	if o.Price <= 0 {
		return false, "order has no price"
	}

	sim, _ := state.ApplyFill(account, state.Fill{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: o.Quantity,
		Price:    o.Price,
		Leverage: o.Leverage,
		At:       m.now(),
	})
	metrics := m.metricsLocked(sim, prices)
	l := m.limits

	switch {
	case metrics.LeverageRatio > l.MaxLeverageUsage:
		return false, fmt.Sprintf("order would push leverage ratio to %.2f (limit %.2f)", metrics.LeverageRatio, l.MaxLeverageUsage)
	case metrics.LargestPositionRatio > l.MaxPositionSize:
		return false, fmt.Sprintf("order would push largest position ratio to %.2f (limit %.2f)", metrics.LargestPositionRatio, l.MaxPositionSize)
	case metrics.PositionCount > l.MaxPositionCount:
		return false, fmt.Sprintf("position count %d exceeds %d", metrics.PositionCount, l.MaxPositionCount)
	}
	if need := o.RequiredMargin(); need > account.AvailableBalance {
		return false, fmt.Sprintf("insufficient margin: need %.2f, available %.2f", need, account.AvailableBalance)
	}
	return true, ""
}

// ResetEmergencyMode clears the emergency and halted flags and drops all active alerts.
func (m *Manager) ResetEmergencyMode() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergency = false
	m.halted = false
	m.active = nil
	m.log.Info("emergency mode reset")
}

// EmergencyMode reports whether a critical margin call was seen since the last reset.
func (m *Manager) EmergencyMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergency
}

// TradingHalted reports whether a critical drawdown was seen since the last reset.
func (m *Manager) TradingHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// ResolveAlert marks the active alert with id resolved and removes it from the active set.
func (m *Manager) ResolveAlert(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.active {
		if a.ID == id {
			a.Resolved = true
			m.active = append(m.active[:i], m.active[i+1:]...)
			m.log.Info("alert resolved", zap.String("id", id), zap.String("type", string(a.Type)))
			return true
		}
	}
	return false
}

// ActiveAlerts returns copies of the unresolved alerts.
func (m *Manager) ActiveAlerts() []RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RiskAlert, len(m.active))
	for i, a := range m.active {
		out[i] = *a
	}
	return out
}

// AlertHistory returns the most recent alerts, oldest first.
func (m *Manager) AlertHistory() []RiskAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RiskAlert(nil), m.alertHistory...)
}

// Limits returns the current limits.
func (m *Manager) Limits() RiskLimits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// SetLimits replaces the limits.
func (m *Manager) SetLimits(l RiskLimits) {
	m.mu.Lock()
	m.limits = l
	m.mu.Unlock()
	m.log.Info("risk limits replaced")
}

// UpdateLimits applies fn to a copy of the limits and installs the result.
func (m *Manager) UpdateLimits(fn func(*RiskLimits)) RiskLimits {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.limits
	fn(&l)
	m.limits = l
	m.log.Info("risk limits updated", zap.Any("limits", l))
	return l
}

// CurrentMetrics returns the last recorded snapshot.
func (m *Manager) CurrentMetrics() RiskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// HistoricalData returns recorded snapshots not older than window.
func (m *Manager) HistoricalData(window time.Duration) []RiskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-window)
	var out []RiskMetrics
	for _, s := range m.history {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Report summarises metrics, key limits, alerts and flags.
func (m *Manager) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alerts := make([]RiskAlert, len(m.active))
	for i, a := range m.active {
		alerts[i] = *a
	}
	return Report{
		CurrentMetrics: m.current,
		Limits: ReportLimits{
			MaxLeverage:     m.limits.MaxLeverage,
			MaxPositionSize: m.limits.MaxPositionSize,
			MaxDrawdown:     m.limits.MaxDrawdown,
			MinMarginRatio:  m.limits.MinMarginRatio,
		},
		ActiveAlerts:  alerts,
		EmergencyMode: m.emergency,
		TradingHalted: m.halted,
	}
}

func (m *Manager) recordLocked(s RiskMetrics) RiskMetrics {
	m.current = s
	m.history = appendBounded(m.history, s, metricsHistoryLen)
	return s
}

func appendBounded[T any](s []T, v T, n int) []T {
	s = append(s, v)
	if len(s) > n {
		s = append(s[:0], s[len(s)-n:]...)
	}
	return s
}
