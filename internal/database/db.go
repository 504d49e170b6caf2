// Package database keeps the closed-trade history in PostgreSQL. The
// whole package is optional at runtime: a nil *DB is a valid receiver
// everywhere and every write becomes a no-op, so the bot runs without
// Postgres configured.
package database

import (
	"context"
	"fmt"
	"time"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// New connects to Postgres. A disabled config returns (nil, nil) and
// the caller proceeds without history.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("database enabled but no url configured")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{pool: pool, log: logging.Default().WithComponent("database")}
	db.log.Info("connected to postgres")
	return db, nil
}

// Migrate creates the history tables when they do not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	if db == nil {
		return nil
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			position_id VARCHAR(64) NOT NULL,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			role VARCHAR(24) NOT NULL,
			credential VARCHAR(10) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			size DECIMAL(12, 6) NOT NULL,
			leverage DECIMAL(8, 2) NOT NULL,
			quantity DECIMAL(20, 8),
			realized_pnl DECIMAL(12, 6),
			close_reason TEXT,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_pair_closed ON trades (pair, closed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS hedge_events (
			id SERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			primary_id VARCHAR(64) NOT NULL,
			hedge_id VARCHAR(64),
			event VARCHAR(32) NOT NULL,
			verdict VARCHAR(16),
			method VARCHAR(16),
			guarantee DECIMAL(12, 6),
			attempt INT,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hedge_events_primary ON hedge_events (primary_id, created_at DESC)`,
	}

	for i, m := range migrations {
		if _, err := db.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.log.Info("history schema ready")
	return nil
}

// Healthy reports connectivity. A nil receiver is not healthy, it is
// absent.
func (db *DB) Healthy(ctx context.Context) bool {
	if db == nil {
		return false
	}
	return db.pool.Ping(ctx) == nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db == nil || db.pool == nil {
		return
	}
	db.pool.Close()
	db.log.Info("database connection closed")
}
