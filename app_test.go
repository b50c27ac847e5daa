package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"leverage-core/internal/coordinator"
	"leverage-core/pkg/config"
	"leverage-core/pkg/db"
	"leverage-core/pkg/errors"
)

func loadTestConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	t.Setenv("API_ENABLED", "false")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("EXECUTION_SIM_LATENCY", "-1ns")
	t.Setenv("EXCHANGE_MOCK_SEED", "11")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadStrategyFromConfig(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"TRADING_STRATEGY": "rsi", "TRADING_MAX_LEVERAGE": "4"})

	defs, strat, err := loadStrategy(cfg, "")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.True(t, defs[0].IsActive)
	assert.Equal(t, "BTCUSDT", defs[0].Settings.Symbol)
	assert.Equal(t, 4.0, defs[0].Settings.MaxLeverage)
	assert.Equal(t, cfg.Risk.DefaultStopLoss, defs[0].Settings.StopLoss)
	assert.NotEmpty(t, strat.Name())
}

func TestLoadStrategyFileNeedsActiveDefinition(t *testing.T) {
	cfg := loadTestConfig(t, nil)
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - id: slow_cross
    kind: ma_cross
    symbol: ETHUSDT
    is_active: false
`), 0o600))

	_, _, err := loadStrategy(cfg, path)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestBuildAppRejectsUnknownStrategy(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{"TRADING_STRATEGY": "martingale"})
	_, err := buildApp(cfg, "", "", zap.NewNop())
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestAppRunsSessionAndRecordsIt(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "leverage.db")
	cfg := loadTestConfig(t, map[string]string{
		"DB_ENABLED":              "true",
		"DB_SQLITE_PATH":          dbPath,
		"TRADING_UPDATE_INTERVAL": "10ms",
	})

	a, err := buildApp(cfg, "", "", zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a.recorder)
	assert.Nil(t, a.server)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, a.run(ctx))
	assert.Equal(t, coordinator.StateStopped, a.coord.State())

	database, err := db.New(dbPath)
	require.NoError(t, err)
	defer database.Close()
	sessions, err := database.Queries().ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "stopped", sessions[0].State)
	assert.Equal(t, "BTCUSDT", sessions[0].Symbol)
	assert.True(t, sessions[0].StoppedAt.Valid)
}
