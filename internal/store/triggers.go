package store

import (
	"database/sql"
	"fmt"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// TriggerStore holds the shared stop_losses/take_profits tables (one pair
// of global tables, discriminated by the position_table column, exactly
// as db_manager.py defines them — not one table per instance).
type TriggerStore struct {
	db *sql.DB
}

func (s *TriggerStore) initTables() error {
	for _, table := range []string{"stop_losses", "take_profits"} {
		q := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				position_table TEXT NOT NULL,
				orig_position_id INTEGER NOT NULL,
				position_id TEXT NOT NULL DEFAULT '',
				symbol TEXT NOT NULL,
				position_type TEXT NOT NULL,
				side TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				is_filled BOOLEAN NOT NULL DEFAULT 0,
				price REAL NOT NULL,
				amount REAL NOT NULL,
				UNIQUE(position_table, orig_position_id, position_type)
			)
		`, table)
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init %s table: %w", table, err)
		}
	}
	return nil
}

func (s *TriggerStore) tableFor(kind domain.TriggerKind) string {
	if kind == domain.TriggerStopLoss {
		return "stop_losses"
	}
	return "take_profits"
}

// Upsert creates or replaces the active trigger row for
// (position_table, orig_position_id, kind), matching the unique tuple in
// the schema; the caller decides whether this is a fresh create or a
// cancel+re-create per the 1% drift rule before calling this.
func (s *TriggerStore) Upsert(t domain.TriggerOrder) error {
	table := s.tableFor(t.Kind)
	_, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO %s (position_table, orig_position_id, position_id, symbol, position_type, side, is_active, is_filled, price, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_table, orig_position_id, position_type) DO UPDATE SET
			position_id = excluded.position_id,
			side = excluded.side,
			is_active = excluded.is_active,
			is_filled = excluded.is_filled,
			price = excluded.price,
			amount = excluded.amount
	`, table), t.PositionTable, t.OrigPositionID, t.PositionID, t.Symbol, string(t.Kind), string(t.Side),
		t.IsActive, t.IsFilled, t.Price, t.Amount)
	return err
}

// Get returns the trigger row for one mirrored position and kind, if any.
func (s *TriggerStore) Get(positionTable string, origPositionID int64, kind domain.TriggerKind) (*domain.TriggerOrder, error) {
	table := s.tableFor(kind)
	var t domain.TriggerOrder
	var side, ptype string
	err := s.db.QueryRow(fmt.Sprintf(`
		SELECT id, position_table, orig_position_id, position_id, symbol, position_type, side, is_active, is_filled, price, amount
		FROM %s WHERE position_table = ? AND orig_position_id = ? AND position_type = ?
	`, table), positionTable, origPositionID, string(kind)).Scan(
		&t.ID, &t.PositionTable, &t.OrigPositionID, &t.PositionID, &t.Symbol, &ptype, &side, &t.IsActive, &t.IsFilled, &t.Price, &t.Amount)
	if err != nil {
		return nil, err
	}
	t.Kind = domain.TriggerKind(ptype)
	t.Side = domain.Side(side)
	return &t, nil
}

// ActiveFor returns the active SL/TP rows for one instance's position
// table, matching get_all_active_pos_stop_losses/get_all_active_pos_take_profits.
func (s *TriggerStore) ActiveFor(positionTable string, kind domain.TriggerKind) ([]domain.TriggerOrder, error) {
	table := s.tableFor(kind)
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, position_table, orig_position_id, position_id, symbol, position_type, side, is_active, is_filled, price, amount
		FROM %s WHERE position_table = ? AND is_active = 1
	`, table), positionTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TriggerOrder
	for rows.Next() {
		var t domain.TriggerOrder
		var side, ptype string
		if err := rows.Scan(&t.ID, &t.PositionTable, &t.OrigPositionID, &t.PositionID, &t.Symbol, &ptype, &side, &t.IsActive, &t.IsFilled, &t.Price, &t.Amount); err != nil {
			return nil, err
		}
		t.Kind = domain.TriggerKind(ptype)
		t.Side = domain.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Deactivate marks a trigger inactive, e.g. after a cancel acknowledgement.
func (s *TriggerStore) Deactivate(kind domain.TriggerKind, id int64) error {
	table := s.tableFor(kind)
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE %s SET is_active = 0 WHERE id = ?`, table), id)
	return err
}

// MarkFilled records a trigger order's fill, the event that forces the
// linked mirrored position to is_closed=1, user_amount=0.
func (s *TriggerStore) MarkFilled(kind domain.TriggerKind, id int64) error {
	table := s.tableFor(kind)
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE %s SET is_filled = 1, is_active = 0 WHERE id = ?`, table), id)
	return err
}
