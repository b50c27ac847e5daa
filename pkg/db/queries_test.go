package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage-core/pkg/errors"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	v, err := userVersion(database.DB)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion(), v)

	for table, column := range map[string]string{"orders": "exchange_order_id", "sessions": "uptime_seconds"} {
		_, err := database.DB.Exec("SELECT " + column + " FROM " + table + " LIMIT 1")
		assert.NoError(t, err, "%s.%s", table, column)
	}
}

func TestOrderUpsertAndQueries(t *testing.T) {
	database := openTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	insert := func(id, symbol, status string, at time.Time) {
		_, err := database.DB.Exec(UpsertOrderSQL, id, "sess-1", symbol, "buy", "market", 50000.0, 0.1, 3.0,
			0.0, 0.0, status, "signal", "", "", at, at)
		require.NoError(t, err)
	}
	insert("ORD_1", "BTCUSDT", "pending", t0)
	insert("ORD_2", "ETHUSDT", "filled", t0.Add(time.Second))
	insert("ORD_3", "BTCUSDT", "filled", t0.Add(2*time.Second))

	// Updating an existing order keeps its creation time.
	_, err := database.DB.Exec(UpsertOrderSQL, "ORD_1", "sess-1", "BTCUSDT", "buy", "market", 50000.0, 0.1, 3.0,
		0.1, 50010.0, "filled", "signal", "", "EX_9", t0.Add(time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)

	all, err := q.ListOrders(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ORD_3", all[0].ID)

	btc, err := q.ListOrders(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, btc, 2)

	got, err := q.GetOrder(ctx, "ORD_1")
	require.NoError(t, err)
	assert.Equal(t, "filled", got.Status)
	assert.Equal(t, 50010.0, got.FilledPrice)
	assert.Equal(t, "EX_9", got.ExchangeOrderID)
	assert.True(t, got.CreatedAt.Equal(t0))

	_, err = q.GetOrder(ctx, "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func TestAlertsAndResolve(t *testing.T) {
	database := openTestDB(t)
	q := database.Queries()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := database.DB.Exec(UpsertAlertSQL, "ALERT_1", "sess-1", "leverage", "high", "leverage too high",
		nil, 0.9, 0.8, false, now)
	require.NoError(t, err)
	_, err = database.DB.Exec(UpsertAlertSQL, "ALERT_2", "sess-1", "position_size", "medium", "position large",
		"BTCUSDT", 0.6, 0.5, false, now.Add(time.Second))
	require.NoError(t, err)

	alerts, err := q.ListAlerts(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "ALERT_2", alerts[0].ID)
	assert.Equal(t, sql.NullString{String: "BTCUSDT", Valid: true}, alerts[0].Symbol)
	assert.False(t, alerts[1].Symbol.Valid)

	require.NoError(t, q.MarkAlertResolved(ctx, "ALERT_1"))
	open, err := q.ListAlerts(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ALERT_2", open[0].ID)

	everything, err := q.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	assert.Len(t, everything, 2)

	err = q.MarkAlertResolved(ctx, "ALERT_X")
	assert.True(t, errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func TestSnapshotsSince(t *testing.T) {
	database := openTestDB(t)
	q := database.Queries()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := database.DB.Exec(InsertSnapshotSQL, "sess-1", 10000.0+float64(i), 0.2, 0.2, 0.0, 0.0,
			0.5, 1.0, 0.0, "low", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	snaps, err := q.ListSnapshots(context.Background(), base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 10001.0, snaps[0].TotalEquity)
	assert.Equal(t, "low", snaps[1].RiskLevel)
}

func TestSessionUpsert(t *testing.T) {
	database := openTestDB(t)
	q := database.Queries()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := database.DB.Exec(UpsertSessionSQL, "sess-1", "host", "BTCUSDT", "ma_cross", "running", start,
		nil, 0.0, 0, 0, 0, "")
	require.NoError(t, err)
	_, err = database.DB.Exec(UpsertSessionSQL, "sess-1", "host", "BTCUSDT", "ma_cross", "stopped", start,
		start.Add(time.Minute), 60.0, 12, 3, 1, "tick: boom")
	require.NoError(t, err)

	sessions, err := q.ListSessions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "stopped", s.State)
	assert.True(t, s.StoppedAt.Valid)
	assert.Equal(t, 60.0, s.UptimeSeconds)
	assert.Equal(t, 12, s.ProcessedSignals)
	assert.Equal(t, "tick: boom", s.LastError)
}
