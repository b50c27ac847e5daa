package events

import (
	"time"

	"leverage-core/internal/order"
	"leverage-core/internal/risk"
	"leverage-core/internal/state"
	"leverage-core/internal/strategy"
)

// Event names a topic.
type Event string

const (
	EventOrderExecuted   Event = "order_executed"
	EventSignalGenerated Event = "signal_generated"
	EventRiskAlert       Event = "risk_alert"
	EventPositionUpdated Event = "position_updated"
	EventErrorOccurred   Event = "error_occurred"
	EventAll             Event = "*"
)

// OrderExecuted is published after an order went through the engine.
type OrderExecuted struct {
	Order   *order.Order `json:"order"`
	Success bool         `json:"success"`
	Source  string       `json:"source"` // signal, risk, manual, close, venue
}

// SignalGenerated is published after a signal produced orders.
type SignalGenerated struct {
	Signal strategy.Signal `json:"signal"`
	Orders int             `json:"orders"`
}

// RiskAlert carries an alert raised by the risk manager.
type RiskAlert struct {
	Alert risk.RiskAlert `json:"alert"`
}

// PositionUpdated is published when a fill changed a position. Position is nil when the
// position was closed.
type PositionUpdated struct {
	Symbol   string          `json:"symbol"`
	Kind     state.FillKind  `json:"kind"`
	Position *state.Position `json:"position,omitempty"`
}

// ErrorOccurred reports a recovered error or panic from the control loop.
type ErrorOccurred struct {
	Where string    `json:"where"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Envelope wraps any event for consumers of the All topic.
type Envelope struct {
	Event   Event     `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}
