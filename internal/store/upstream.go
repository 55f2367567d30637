package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// UpstreamStore holds position_temp, the write-then-sweep snapshot table
// the upstream refresh loop fills each cycle and the matcher reads from.
// Grounded on db_manager.py's position_temp table and
// insert_temp_positions/get_temp_positions_from_db functions.
type UpstreamStore struct {
	db *sql.DB
}

func (s *UpstreamStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS position_temp (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_item_id INTEGER NOT NULL,
			trader_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			open_avg_px REAL NOT NULL DEFAULT 0,
			mark_px REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			pnl_ratio REAL NOT NULL DEFAULT 0,
			sub_pos REAL NOT NULL DEFAULT 0,
			open_time DATETIME,
			u_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			inserted_on_ts INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("init position_temp table: %w", err)
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_position_temp_trader ON position_temp(trader_id)`)
	return nil
}

// ReplaceAll clears rows older than this refresh and inserts the freshly
// fetched snapshot, matching insert_temp_positions's inserted_on_ts sweep:
// every row gets the same refresh timestamp, then anything older is
// deleted so a trader who fully closed out never lingers past one cycle.
func (s *UpstreamStore) ReplaceAll(positions []domain.UpstreamPosition, refreshTS int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO position_temp
			(trade_item_id, trader_id, symbol, side, leverage, open_avg_px, mark_px, pnl, pnl_ratio, sub_pos, open_time, u_time, inserted_on_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range positions {
		if _, err := stmt.Exec(p.TradeItemID, p.TraderID, p.Symbol, string(p.Side), p.Leverage,
			p.OpenAvgPx, p.MarkPx, p.Pnl, p.PnlRatio, p.SubPos, p.OpenTime, p.UTime, refreshTS); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM position_temp WHERE inserted_on_ts < ?`, refreshTS); err != nil {
		return err
	}
	return tx.Commit()
}

// ForTraders returns every upstream position currently on file for the
// given traders.
func (s *UpstreamStore) ForTraders(traderIDs []string) ([]domain.UpstreamPosition, error) {
	if len(traderIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(traderIDs)*2)
	args := make([]interface{}, 0, len(traderIDs))
	for i, id := range traderIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, trade_item_id, trader_id, symbol, side, leverage, open_avg_px, mark_px, pnl, pnl_ratio, sub_pos, open_time, u_time, inserted_on_ts
		FROM position_temp WHERE trader_id IN (%s)
	`, string(placeholders)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UpstreamPosition
	for rows.Next() {
		var p domain.UpstreamPosition
		var side string
		var openTime, uTime sql.NullTime
		var insertedTS int64
		if err := rows.Scan(&p.ID, &p.TradeItemID, &p.TraderID, &p.Symbol, &side, &p.Leverage,
			&p.OpenAvgPx, &p.MarkPx, &p.Pnl, &p.PnlRatio, &p.SubPos, &openTime, &uTime, &insertedTS); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		p.OpenTime = openTime.Time
		p.UTime = uTime.Time
		p.InsertedOn = time.UnixMilli(insertedTS)
		out = append(out, p)
	}
	return out, rows.Err()
}
