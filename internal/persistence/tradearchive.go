// Package persistence implements the two worker-bound sinks spec.md §6
// names: an append-only trade archive (trade-ordered) and an
// append-only signal log (acceptance-ordered). Neither is read by the
// engine at steady-state; both are accessed only through these
// message-passing-friendly stores (spec.md §5).
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	_ "modernc.org/sqlite"
)

// TradeArchive is the sqlite-backed append-only trade sink, grounded
// on the teacher pack's sqlite db/migrate shape (stadam23-Eve-flipper's
// internal/db.Open). C14 MarketSimulator does not read it: the
// simulator replays archived trade/depth CSV files instead.
type TradeArchive struct {
	sql *sql.DB
}

// OpenTradeArchive opens (or creates) the sqlite trade archive at path
// and runs its migration.
func OpenTradeArchive(path string) (*TradeArchive, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("persistence: open trade archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("persistence: ping trade archive: %w", err)
	}
	a := &TradeArchive{sql: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: migrate trade archive: %w", err)
	}
	return a, nil
}

func (a *TradeArchive) migrate() error {
	_, err := a.sql.Exec(`
		CREATE TABLE IF NOT EXISTS trade_archive (
			trade_id       TEXT PRIMARY KEY,
			pair           TEXT NOT NULL,
			price          TEXT NOT NULL,
			quantity       TEXT NOT NULL,
			timestamp_ms   INTEGER NOT NULL,
			buyer_is_maker INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trade_archive_pair_ts ON trade_archive(pair, timestamp_ms);
	`)
	return err
}

// Append writes one trade to the archive, ignoring duplicate trade
// ids (a reconnect may redeliver the tail of the stream).
func (a *TradeArchive) Append(ctx context.Context, trade model.AggressiveTrade) error {
	_, err := a.sql.ExecContext(ctx,
		`INSERT OR IGNORE INTO trade_archive (trade_id, pair, price, quantity, timestamp_ms, buyer_is_maker) VALUES (?,?,?,?,?,?)`,
		trade.TradeID, trade.Pair, trade.Price.String(), trade.Quantity.String(),
		trade.Timestamp.UnixMilli(), boolToInt(trade.BuyerIsMaker),
	)
	if err != nil {
		return fmt.Errorf("persistence: append trade %s: %w", trade.TradeID, err)
	}
	return nil
}

// Recent returns the most recent trades for pair in ascending time
// order, for diagnostics and simulator fixture export.
func (a *TradeArchive) Recent(ctx context.Context, pair string, limit int) ([]model.AggressiveTrade, error) {
	rows, err := a.sql.QueryContext(ctx,
		`SELECT trade_id, pair, price, quantity, timestamp_ms, buyer_is_maker
		   FROM trade_archive WHERE pair = ? ORDER BY timestamp_ms DESC LIMIT ?`,
		pair, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: recent trades: %w", err)
	}
	defer rows.Close()

	var out []model.AggressiveTrade
	for rows.Next() {
		var (
			tradeID, pairCol, priceStr, qtyStr string
			tsMs                               int64
			buyerIsMaker                       int
		)
		if err := rows.Scan(&tradeID, &pairCol, &priceStr, &qtyStr, &tsMs, &buyerIsMaker); err != nil {
			return nil, err
		}
		price, err := fixedpoint.FromString(priceStr)
		if err != nil {
			continue
		}
		qty, err := fixedpoint.FromString(qtyStr)
		if err != nil {
			continue
		}
		out = append(out, model.AggressiveTrade{
			TradeID:      tradeID,
			Pair:         pairCol,
			Price:        price,
			Quantity:     qty,
			Timestamp:    time.UnixMilli(tsMs),
			BuyerIsMaker: buyerIsMaker != 0,
		})
	}
	// reverse to ascending order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Close closes the underlying connection.
func (a *TradeArchive) Close() error {
	return a.sql.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
