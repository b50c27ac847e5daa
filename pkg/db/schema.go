package db

import (
	"database/sql"
	"strconv"

	"leverage-core/pkg/errors"
)

// migrations are applied in order; PRAGMA user_version records how many ran. Append
// only: never edit a released step.
var migrations = []string{
	// 1: core tables
	`
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    host_id TEXT NOT NULL DEFAULT '',
    symbol TEXT NOT NULL,
    strategy TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    stopped_at DATETIME,
    processed_signals INTEGER DEFAULT 0,
    executed_orders INTEGER DEFAULT 0,
    failed_orders INTEGER DEFAULT 0,
    last_error TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    session_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    leverage REAL NOT NULL,
    filled_qty REAL DEFAULT 0,
    filled_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    reason TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);

CREATE TABLE IF NOT EXISTS risk_alerts (
    id TEXT PRIMARY KEY,
    session_id TEXT,
    type TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    symbol TEXT,
    current_value REAL,
    threshold REAL,
    resolved INTEGER DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS risk_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    total_equity REAL NOT NULL,
    leverage_ratio REAL NOT NULL,
    margin_ratio REAL NOT NULL,
    current_drawdown REAL NOT NULL,
    max_drawdown REAL NOT NULL,
    concentration REAL NOT NULL,
    liquidity_score REAL NOT NULL,
    correlation REAL NOT NULL,
    risk_level TEXT NOT NULL,
    taken_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_snapshots_taken ON risk_snapshots(taken_at);

CREATE TABLE IF NOT EXISTS strategy_definitions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    symbol TEXT NOT NULL,
    settings TEXT NOT NULL,
    parameters TEXT,
    is_active BOOLEAN DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	// 2: venue order ids and session uptime
	`
ALTER TABLE orders ADD COLUMN exchange_order_id TEXT DEFAULT '';
ALTER TABLE sessions ADD COLUMN uptime_seconds REAL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_risk_alerts_created ON risk_alerts(created_at);`,
}

// SchemaVersion is the version ApplyMigrations brings a database to.
func SchemaVersion() int { return len(migrations) }

// ApplyMigrations runs every migration newer than the database's user_version, each in
// its own transaction.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "database is not initialized")
	}
	if _, err := d.DB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "enable WAL", err)
	}

	current, err := userVersion(d.DB)
	if err != nil {
		return err
	}
	for v := current; v < len(migrations); v++ {
		if err := migrate(d.DB, v+1, migrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func migrate(db *sql.DB, version int, ddl string) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(errors.ErrCodeUnknown, err, "begin migration %d", version)
	}
	if _, err := tx.Exec(ddl); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(errors.ErrCodeUnknown, err, "migration %d", version)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.Exec("PRAGMA user_version = " + strconv.Itoa(version)); err != nil {
		_ = tx.Rollback()
		return errors.Wrapf(errors.ErrCodeUnknown, err, "record migration %d", version)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(errors.ErrCodeUnknown, err, "commit migration %d", version)
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, errors.Wrap(errors.ErrCodeUnknown, "read schema version", err)
	}
	return v, nil
}
