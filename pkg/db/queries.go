// Package db stores orders, risk alerts, risk snapshots and session records in SQLite.
package db

import (
	"context"
	"database/sql"
	"time"

	"leverage-core/pkg/errors"
)

const defaultLimit = 100

// Queries provides read access to the trading history.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a new Queries instance.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

const orderColumns = `id, COALESCE(session_id, ''), symbol, side, type, price, qty, leverage,
	filled_qty, filled_price, status, source, COALESCE(reason, ''), COALESCE(exchange_order_id, ''),
	created_at, updated_at`

// ListOrders returns the most recent orders, newest first. An empty symbol matches all.
func (q *Queries) ListOrders(ctx context.Context, symbol string, limit int) ([]Order, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE (? = '' OR symbol = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, symbol, symbol, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "query orders", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetOrder returns one order by ID.
func (q *Queries) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var o Order
	err := s.Scan(&o.ID, &o.SessionID, &o.Symbol, &o.Side, &o.Type, &o.Price, &o.Qty, &o.Leverage,
		&o.FilledQty, &o.FilledPrice, &o.Status, &o.Source, &o.Reason, &o.ExchangeOrderID,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil && err != sql.ErrNoRows {
		return o, errors.Wrap(errors.ErrCodeUnknown, "scan order", err)
	}
	return o, err
}

// ----------------------------------------
// Alert Queries
// ----------------------------------------

// ListAlerts returns alerts newest first; unresolvedOnly drops resolved ones.
func (q *Queries) ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]Alert, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(session_id, ''), type, level, message, symbol, current_value, threshold,
			resolved, created_at
		FROM risk_alerts
		WHERE (? = 0 OR resolved = 0)
		ORDER BY created_at DESC
		LIMIT ?
	`, unresolvedOnly, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "query alerts", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Type, &a.Level, &a.Message, &a.Symbol,
			&a.CurrentValue, &a.Threshold, &a.Resolved, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeUnknown, "scan alert", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlertResolved flags one alert as resolved.
func (q *Queries) MarkAlertResolved(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE risk_alerts SET resolved = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "resolve alert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrCodeDataNotFound, "alert %s not found", id)
	}
	return nil
}

// ----------------------------------------
// Snapshot Queries
// ----------------------------------------

// ListSnapshots returns snapshots taken at or after since, oldest first.
func (q *Queries) ListSnapshots(ctx context.Context, since time.Time, limit int) ([]Snapshot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, COALESCE(session_id, ''), total_equity, leverage_ratio, margin_ratio,
			current_drawdown, max_drawdown, concentration, liquidity_score, correlation,
			risk_level, taken_at
		FROM risk_snapshots
		WHERE taken_at >= ?
		ORDER BY taken_at ASC, id ASC
		LIMIT ?
	`, since.UTC(), clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "query snapshots", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.SessionID, &s.TotalEquity, &s.LeverageRatio, &s.MarginRatio,
			&s.CurrentDrawdown, &s.MaxDrawdown, &s.Concentration, &s.LiquidityScore, &s.Correlation,
			&s.RiskLevel, &s.TakenAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeUnknown, "scan snapshot", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Session Queries
// ----------------------------------------

// ListSessions returns sessions newest first.
func (q *Queries) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, host_id, symbol, strategy, state, started_at, stopped_at,
			COALESCE(uptime_seconds, 0), processed_signals, executed_orders, failed_orders,
			COALESCE(last_error, '')
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "query sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.HostID, &s.Symbol, &s.Strategy, &s.State, &s.StartedAt,
			&s.StoppedAt, &s.UptimeSeconds, &s.ProcessedSignals, &s.ExecutedOrders, &s.FailedOrders,
			&s.LastError); err != nil {
			return nil, errors.Wrap(errors.ErrCodeUnknown, "scan session", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
