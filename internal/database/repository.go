package database

import (
	"context"
	"fmt"
	"time"
)

const asyncWriteTimeout = 5 * time.Second

// RecordTrade inserts one settled position row.
func (db *DB) RecordTrade(ctx context.Context, trade *Trade) error {
	if db == nil {
		return nil
	}

	query := `
		INSERT INTO trades (
			position_id, pair, side, role, credential, entry_price, exit_price,
			size, leverage, quantity, realized_pnl, close_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		) RETURNING id, created_at`

	err := db.pool.QueryRow(ctx, query,
		trade.PositionID,
		trade.Pair,
		trade.Side,
		trade.Role,
		trade.Credential,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.Size,
		trade.Leverage,
		trade.Quantity,
		trade.RealizedPnL,
		trade.CloseReason,
		trade.OpenedAt,
		trade.ClosedAt,
	).Scan(&trade.ID, &trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	return nil
}

// RecordTradeAsync writes the row on its own goroutine with a bounded
// timeout, so callers holding locks never wait on Postgres. Failures
// are logged, never surfaced.
func (db *DB) RecordTradeAsync(trade Trade) {
	if db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		if err := db.RecordTrade(ctx, &trade); err != nil {
			db.log.Warn("trade history write failed",
				"position_id", trade.PositionID, "error", err)
		}
	}()
}

// RecentTrades returns the newest settled rows, optionally filtered by
// pair.
func (db *DB) RecentTrades(ctx context.Context, pair string, limit int) ([]Trade, error) {
	if db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, position_id, pair, side, role, credential, entry_price,
		       COALESCE(exit_price, 0), size, leverage, COALESCE(quantity, 0),
		       COALESCE(realized_pnl, 0), COALESCE(close_reason, ''),
		       opened_at, closed_at, created_at
		FROM trades`
	args := []interface{}{}
	if pair != "" {
		query += ` WHERE pair = $1 ORDER BY closed_at DESC LIMIT $2`
		args = append(args, pair, limit)
	} else {
		query += ` ORDER BY closed_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.Pair, &t.Side, &t.Role, &t.Credential,
			&t.EntryPrice, &t.ExitPrice, &t.Size, &t.Leverage, &t.Quantity,
			&t.RealizedPnL, &t.CloseReason, &t.OpenedAt, &t.ClosedAt, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RealizedPnLSince sums realized PnL over trades closed at or after the
// cutoff.
func (db *DB) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	if db == nil {
		return 0, nil
	}

	var total float64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE closed_at >= $1`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total, nil
}

// RecordHedgeEvent inserts one hedge-coordination outcome row.
func (db *DB) RecordHedgeEvent(ctx context.Context, ev *HedgeEvent) error {
	if db == nil {
		return nil
	}

	query := `
		INSERT INTO hedge_events (
			pair, primary_id, hedge_id, event, verdict, method, guarantee, attempt, detail
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := db.pool.QueryRow(ctx, query,
		ev.Pair, ev.PrimaryID, ev.HedgeID, ev.Event,
		ev.Verdict, ev.Method, ev.Guarantee, ev.Attempt, ev.Detail,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record hedge event: %w", err)
	}
	return nil
}

// RecordHedgeEventAsync is the lock-safe variant of RecordHedgeEvent.
func (db *DB) RecordHedgeEventAsync(ev HedgeEvent) {
	if db == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()
		if err := db.RecordHedgeEvent(ctx, &ev); err != nil {
			db.log.Warn("hedge event write failed",
				"primary_id", ev.PrimaryID, "event", ev.Event, "error", err)
		}
	}()
}

// HedgeEvents returns the newest events for one primary.
func (db *DB) HedgeEvents(ctx context.Context, primaryID string, limit int) ([]HedgeEvent, error) {
	if db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, pair, primary_id, COALESCE(hedge_id, ''), event,
		       COALESCE(verdict, ''), COALESCE(method, ''),
		       COALESCE(guarantee, 0), COALESCE(attempt, 0),
		       COALESCE(detail, ''), created_at
		FROM hedge_events
		WHERE primary_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, primaryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hedge events: %w", err)
	}
	defer rows.Close()

	var out []HedgeEvent
	for rows.Next() {
		var ev HedgeEvent
		if err := rows.Scan(
			&ev.ID, &ev.Pair, &ev.PrimaryID, &ev.HedgeID, &ev.Event,
			&ev.Verdict, &ev.Method, &ev.Guarantee, &ev.Attempt,
			&ev.Detail, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hedge event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
