// Package persistence writes the coordinator's orders, alerts, risk snapshots and
// sessions to SQLite through a batching writer.
package persistence

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"go.uber.org/zap"

	"leverage-core/internal/coordinator"
	"leverage-core/internal/events"
	"leverage-core/internal/risk"
	"leverage-core/pkg/db"
)

const appID = "leverage-core"

// HostID returns a stable, hashed machine identifier, falling back to the hostname.
func HostID() string {
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		return id
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// MetricsSource yields the latest risk metrics.
type MetricsSource interface {
	CurrentMetrics() risk.RiskMetrics
}

// RecorderConfig describes what the recorder stamps onto session rows.
type RecorderConfig struct {
	HostID           string
	Symbol           string
	Strategy         func() string
	SnapshotInterval time.Duration
}

// Recorder turns bus events and session transitions into batched writes.
type Recorder struct {
	writer *BatchWriter
	cfg    RecorderConfig
	log    *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	sessionID string
}

// NewRecorder creates a recorder writing through w.
func NewRecorder(w *BatchWriter, cfg RecorderConfig, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 10 * time.Second
	}
	if cfg.HostID == "" {
		cfg.HostID = HostID()
	}
	return &Recorder{
		writer: w,
		cfg:    cfg,
		log:    log.Named("recorder"),
		now:    time.Now,
	}
}

// SessionID returns the session currently stamped on new rows.
func (r *Recorder) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

// Attach subscribes to order and alert events until ctx is done.
func (r *Recorder) Attach(ctx context.Context, bus *events.Bus) {
	orders, unsubOrders := bus.OrderExecuted.Subscribe(256)
	alerts, unsubAlerts := bus.RiskAlert.Subscribe(64)
	go func() {
		<-ctx.Done()
		unsubOrders()
		unsubAlerts()
	}()

	events.Listen(ctx, orders, r.log, "recorder.orders", r.RecordOrder)
	events.Listen(ctx, alerts, r.log, "recorder.alerts", func(ev events.RiskAlert) {
		r.RecordAlert(ev.Alert)
	})
}

// RunSnapshots samples src every SnapshotInterval until ctx is done.
func (r *Recorder) RunSnapshots(ctx context.Context, src MetricsSource) {
	ticker := time.NewTicker(r.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RecordSnapshot(src.CurrentMetrics())
		}
	}
}

// RecordOrder queues an upsert for the executed order.
func (r *Recorder) RecordOrder(ev events.OrderExecuted) {
	o := ev.Order
	if o == nil {
		return
	}
	r.writer.WriteQuery("orders", db.UpsertOrderSQL,
		o.ID, r.SessionID(), o.Symbol, string(o.Side), string(o.Type), o.Price, o.Quantity, o.Leverage,
		o.FilledQuantity, o.FilledPrice, string(o.Status), ev.Source, o.Reason(), o.ExchangeOrderID,
		o.CreatedAt.UTC(), o.UpdatedAt.UTC())
}

// RecordAlert queues an upsert for a raised or resolved alert.
func (r *Recorder) RecordAlert(a risk.RiskAlert) {
	var symbol, current, threshold any
	if a.Symbol.IsSome() {
		symbol = a.Symbol.Unwrap()
	}
	if a.CurrentValue.IsSome() {
		current = a.CurrentValue.Unwrap()
	}
	if a.Threshold.IsSome() {
		threshold = a.Threshold.Unwrap()
	}
	r.writer.WriteQuery("risk_alerts", db.UpsertAlertSQL,
		a.ID, r.SessionID(), string(a.Type), string(a.Level), a.Message, symbol, current, threshold,
		a.Resolved, a.Timestamp.UTC())
}

// RecordSnapshot queues one risk_snapshots row. Metrics that were never computed are skipped.
func (r *Recorder) RecordSnapshot(m risk.RiskMetrics) {
	if m.Timestamp.IsZero() {
		return
	}
	r.writer.WriteQuery("risk_snapshots", db.InsertSnapshotSQL,
		r.SessionID(), m.TotalEquity, m.LeverageRatio, m.MarginRatio, m.CurrentDrawdown, m.MaxDrawdown,
		m.PositionConcentration, m.LiquidityScore, m.PortfolioCorrelation, string(m.OverallRiskLevel),
		m.Timestamp.UTC())
}

// RecordSession is a coordinator session hook. The start call opens the row and the stop
// call closes it and flushes, so a finished session is durable before Stop returns.
func (r *Recorder) RecordSession(st coordinator.TradingStatus) {
	if st.SessionID == "" {
		return
	}
	r.mu.Lock()
	r.sessionID = st.SessionID
	r.mu.Unlock()

	strategyName := ""
	if r.cfg.Strategy != nil {
		strategyName = r.cfg.Strategy()
	}
	var stoppedAt any
	if st.State == coordinator.StateStopped {
		stoppedAt = r.now().UTC()
	}
	r.writer.WriteQuery("sessions", db.UpsertSessionSQL,
		st.SessionID, r.cfg.HostID, r.cfg.Symbol, strategyName, string(st.State), st.StartTime.UTC(),
		stoppedAt, st.Uptime.Seconds(), st.ProcessedSignals, st.ExecutedOrders, st.FailedOrders,
		st.LastError)

	if st.State == coordinator.StateStopped {
		if err := r.writer.Flush(); err != nil {
			r.log.Warn("flush after session stop failed", zap.String("session_id", st.SessionID), zap.Error(err))
		}
	}
}
