package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/internal/coordinator"
	"leverage-core/internal/events"
	"leverage-core/internal/monitor"
	"leverage-core/internal/order"
	"leverage-core/internal/risk"
	"leverage-core/pkg/db"
)

func newStore(t *testing.T) (*db.Database, *BatchWriter) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	w := NewBatchWriter(database.DB, 100, time.Hour, nil)
	t.Cleanup(func() {
		w.Close()
		database.Close()
	})
	return database, w
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	latency := monitor.NewLatencyHistogram(16)
	w := NewBatchWriter(database.DB, 2, time.Hour, nil, WithLatency(latency))
	defer w.Close()

	now := time.Now().UTC()
	w.WriteQuery("risk_snapshots", db.InsertSnapshotSQL, "s", 1.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0, 0.0, "low", now)
	assert.Equal(t, 1, w.Pending())
	w.WriteQuery("risk_snapshots", db.InsertSnapshotSQL, "s", 2.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0, 0.0, "low", now)
	require.Eventually(t, func() bool {
		return w.Metrics().TotalBatches == 1 && w.Pending() == 0
	}, time.Second, 5*time.Millisecond)

	m := w.Metrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
	assert.Equal(t, 2, m.LastBatchSize)
	assert.False(t, m.LastFlushTime.IsZero())
	assert.Equal(t, 1, latency.Stats().Count)
}

func TestBatchWriterRollsBackFailedBatch(t *testing.T) {
	database, w := newStore(t)

	w.WriteQuery("risk_snapshots", db.InsertSnapshotSQL, "s", 1.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0, 0.0, "low", time.Now())
	w.WriteQuery("missing", "INSERT INTO no_such_table VALUES (1)")
	require.Error(t, w.Flush())
	assert.Equal(t, uint64(1), w.Metrics().TotalErrors)
	assert.Equal(t, uint64(2), w.Metrics().DroppedWrites)

	var n int
	require.NoError(t, database.DB.QueryRow("SELECT COUNT(*) FROM risk_snapshots").Scan(&n))
	assert.Zero(t, n)
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	w := NewBatchWriter(database.DB, 100, time.Hour, nil)
	w.WriteQuery("risk_snapshots", db.InsertSnapshotSQL, "s", 1.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0, 0.0, "low", time.Now())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	var n int
	require.NoError(t, database.DB.QueryRow("SELECT COUNT(*) FROM risk_snapshots").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRecorderPersistsSessionOrdersAndAlerts(t *testing.T) {
	database, w := newStore(t)
	rec := NewRecorder(w, RecorderConfig{
		HostID:   "host-a",
		Symbol:   "BTCUSDT",
		Strategy: func() string { return "ma_cross" },
	}, nil)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.RecordSession(coordinator.TradingStatus{State: coordinator.StateRunning, SessionID: "sess-1", StartTime: start})
	assert.Equal(t, "sess-1", rec.SessionID())

	o, err := order.New(order.Params{
		ID: "ORD_1", Symbol: "BTCUSDT", Side: order.SideBuy, Quantity: 0.1, Price: 50000, Leverage: 3,
		Metadata: map[string]any{order.MetaReason: "ma_cross"},
	})
	require.NoError(t, err)
	o.Status = order.StatusFilled
	o.FilledQuantity = 0.1
	o.FilledPrice = 50025
	rec.RecordOrder(events.OrderExecuted{Order: o, Success: true, Source: "signal"})
	rec.RecordOrder(events.OrderExecuted{})

	rec.RecordAlert(risk.RiskAlert{
		ID: "ALERT_1", Type: risk.AlertPosition, Level: risk.LevelHigh, Message: "position too large",
		Symbol: optional.Some("BTCUSDT"), CurrentValue: optional.Some(0.6), Threshold: optional.Some(0.5),
		Timestamp: start,
	})
	rec.RecordSnapshot(risk.RiskMetrics{})
	rec.RecordSnapshot(risk.RiskMetrics{TotalEquity: 10000, OverallRiskLevel: risk.LevelLow, Timestamp: start})

	rec.RecordSession(coordinator.TradingStatus{
		State: coordinator.StateStopped, SessionID: "sess-1", StartTime: start,
		Uptime: 90 * time.Second, ProcessedSignals: 4, ExecutedOrders: 1,
	})
	assert.Zero(t, w.Pending())

	q := database.Queries()
	stored, err := q.GetOrder(ctx, "ORD_1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", stored.SessionID)
	assert.Equal(t, "filled", stored.Status)
	assert.Equal(t, "signal", stored.Source)
	assert.Equal(t, "ma_cross", stored.Reason)

	alerts, err := q.ListAlerts(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "BTCUSDT", alerts[0].Symbol.String)
	assert.Equal(t, 0.5, alerts[0].Threshold.Float64)

	snaps, err := q.ListSnapshots(ctx, start.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 10000.0, snaps[0].TotalEquity)

	sessions, err := q.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "host-a", sessions[0].HostID)
	assert.Equal(t, "ma_cross", sessions[0].Strategy)
	assert.Equal(t, "stopped", sessions[0].State)
	assert.Equal(t, 90.0, sessions[0].UptimeSeconds)
	assert.True(t, sessions[0].StoppedAt.Valid)
}

type fixedMetrics struct{ m risk.RiskMetrics }

func (f fixedMetrics) CurrentMetrics() risk.RiskMetrics { return f.m }

func TestRecorderAttachAndSnapshots(t *testing.T) {
	database, w := newStore(t)
	rec := NewRecorder(w, RecorderConfig{HostID: "h", SnapshotInterval: 5 * time.Millisecond}, nil)
	bus := events.NewBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec.Attach(ctx, bus)
	go rec.RunSnapshots(ctx, fixedMetrics{risk.RiskMetrics{TotalEquity: 1, OverallRiskLevel: risk.LevelLow, Timestamp: time.Now()}})

	bus.RiskAlert.Publish(events.RiskAlert{Alert: risk.RiskAlert{
		ID: "ALERT_9", Type: risk.AlertLeverage, Level: risk.LevelMedium, Message: "m", Timestamp: time.Now(),
	}})

	require.Eventually(t, func() bool {
		if err := w.Flush(); err != nil {
			return false
		}
		var alerts, snaps int
		database.DB.QueryRow("SELECT COUNT(*) FROM risk_alerts").Scan(&alerts)
		database.DB.QueryRow("SELECT COUNT(*) FROM risk_snapshots").Scan(&snaps)
		return alerts == 1 && snaps > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHostIDIsNotEmpty(t *testing.T) {
	assert.NotEmpty(t, HostID())
}
