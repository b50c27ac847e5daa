package coordinator

import (
	"time"

	"leverage-core/pkg/errors"
)

// State is the session state of a Coordinator.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateEmergency    State = "emergency"
	StateShuttingDown State = "shutting_down"
)

var transitions = map[State][]State{
	StateStopped:      {StateStarting},
	StateStarting:     {StateRunning, StateStopped},
	StateRunning:      {StatePaused, StateEmergency, StateShuttingDown},
	StatePaused:       {StateRunning, StateEmergency, StateShuttingDown},
	StateEmergency:    {StateShuttingDown},
	StateShuttingDown: {StateStopped},
}

// Active reports whether s belongs to a live session.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused || s == StateEmergency
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func transitionError(from, to State) error {
	return errors.Newf(errors.ErrCodeInvalidStateTransition, "cannot move from %s to %s", from, to)
}

// TradingStatus is the coordinator-owned session record.
type TradingStatus struct {
	State            State         `json:"state"`
	SessionID        string        `json:"session_id,omitempty"`
	StartTime        time.Time     `json:"start_time"`
	Uptime           time.Duration `json:"uptime"`
	ProcessedSignals int           `json:"processed_signals"`
	ExecutedOrders   int           `json:"executed_orders"`
	FailedOrders     int           `json:"failed_orders"`
	LastUpdate       time.Time     `json:"last_update"`
	LastError        string        `json:"last_error,omitempty"`
}
