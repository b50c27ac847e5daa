package db

import (
	"database/sql"
	"time"
)

// Order is one row of the order table.
type Order struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Price           float64   `json:"price"`
	Qty             float64   `json:"qty"`
	Leverage        float64   `json:"leverage"`
	FilledQty       float64   `json:"filled_qty"`
	FilledPrice     float64   `json:"filled_price"`
	Status          string    `json:"status"`
	Source          string    `json:"source"`
	Reason          string    `json:"reason"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Alert is a persisted risk alert. Symbol, CurrentValue and Threshold are optional.
type Alert struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Type         string          `json:"type"`
	Level        string          `json:"level"`
	Message      string          `json:"message"`
	Symbol       sql.NullString  `json:"-"`
	CurrentValue sql.NullFloat64 `json:"-"`
	Threshold    sql.NullFloat64 `json:"-"`
	Resolved     bool            `json:"resolved"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Snapshot is a persisted risk metrics sample.
type Snapshot struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	TotalEquity     float64   `json:"total_equity"`
	LeverageRatio   float64   `json:"leverage_ratio"`
	MarginRatio     float64   `json:"margin_ratio"`
	CurrentDrawdown float64   `json:"current_drawdown"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	Concentration   float64   `json:"concentration"`
	LiquidityScore  float64   `json:"liquidity_score"`
	Correlation     float64   `json:"correlation"`
	RiskLevel       string    `json:"risk_level"`
	TakenAt         time.Time `json:"taken_at"`
}

// Session is one coordinator run.
type Session struct {
	ID               string       `json:"id"`
	HostID           string       `json:"host_id"`
	Symbol           string       `json:"symbol"`
	Strategy         string       `json:"strategy"`
	State            string       `json:"state"`
	StartedAt        time.Time    `json:"started_at"`
	StoppedAt        sql.NullTime `json:"-"`
	UptimeSeconds    float64      `json:"uptime_seconds"`
	ProcessedSignals int          `json:"processed_signals"`
	ExecutedOrders   int          `json:"executed_orders"`
	FailedOrders     int          `json:"failed_orders"`
	LastError        string       `json:"last_error"`
}

// Write statements shared by the recorder and the tests. Parameters are positional in
// column order.
const (
	UpsertOrderSQL = `
		INSERT INTO orders (id, session_id, symbol, side, type, price, qty, leverage, filled_qty,
			filled_price, status, source, reason, exchange_order_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			status = excluded.status,
			source = excluded.source,
			exchange_order_id = excluded.exchange_order_id,
			updated_at = excluded.updated_at`

	UpsertAlertSQL = `
		INSERT INTO risk_alerts (id, session_id, type, level, message, symbol, current_value,
			threshold, resolved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			level = excluded.level,
			message = excluded.message,
			current_value = excluded.current_value,
			resolved = excluded.resolved,
			updated_at = CURRENT_TIMESTAMP`

	InsertSnapshotSQL = `
		INSERT INTO risk_snapshots (session_id, total_equity, leverage_ratio, margin_ratio,
			current_drawdown, max_drawdown, concentration, liquidity_score, correlation,
			risk_level, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	UpsertSessionSQL = `
		INSERT INTO sessions (id, host_id, symbol, strategy, state, started_at, stopped_at,
			uptime_seconds, processed_signals, executed_orders, failed_orders, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			stopped_at = excluded.stopped_at,
			uptime_seconds = excluded.uptime_seconds,
			processed_signals = excluded.processed_signals,
			executed_orders = excluded.executed_orders,
			failed_orders = excluded.failed_orders,
			last_error = excluded.last_error`
)
