package store

import (
	"database/sql"
	"fmt"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// PositionStore holds one instance's mirrored-position table
// (position_x1/position_x2/position_x3), grounded on db_manager.py's
// per-instance table and its insert_position/fetch_active_db_positions/
// fetch_active_non_ignored_positions family.
type PositionStore struct {
	db       *sql.DB
	instance domain.Instance
}

func (s *PositionStore) table() string { return string(s.instance.PositionTable()) }

func (s *PositionStore) initTables() error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			okx_pos_id INTEGER PRIMARY KEY,
			bin_pos_id TEXT NOT NULL DEFAULT '',
			trader_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			leverage INTEGER NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			is_copied BOOLEAN NOT NULL DEFAULT 0,
			is_filled BOOLEAN NOT NULL DEFAULT 0,
			is_ignored BOOLEAN NOT NULL DEFAULT 0,
			is_ignored_reason TEXT NOT NULL DEFAULT '',
			is_canceled BOOLEAN NOT NULL DEFAULT 0,
			is_closed BOOLEAN NOT NULL DEFAULT 0,
			open_avg_px REAL NOT NULL DEFAULT 0,
			close_avg_px REAL NOT NULL DEFAULT 0,
			mark_px REAL NOT NULL DEFAULT 0,
			pnl REAL NOT NULL DEFAULT 0,
			pnl_ratio REAL NOT NULL DEFAULT 0,
			liquidation_px REAL NOT NULL DEFAULT 0,
			sub_pos REAL NOT NULL DEFAULT 0,
			user_amount REAL NOT NULL DEFAULT 0,
			inserted_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, s.table())
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("init %s table: %w", s.table(), err)
	}
	_, _ = s.db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_trader_symbol ON %s(trader_id, symbol)`, s.table(), s.table()))
	_, _ = s.db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_active ON %s(is_active)`, s.table(), s.table()))
	return nil
}

func (s *PositionStore) scanRows(rows *sql.Rows) ([]domain.MirroredPosition, error) {
	defer rows.Close()
	var out []domain.MirroredPosition
	for rows.Next() {
		var p domain.MirroredPosition
		var side string
		if err := rows.Scan(&p.ID, &p.BinPosID, &p.TraderID, &p.Symbol, &side, &p.Leverage,
			&p.IsActive, &p.IsCopied, &p.IsFilled, &p.IsIgnored, &p.IgnoredReason, &p.IsCanceled, &p.IsClosed,
			&p.OpenAvgPx, &p.CloseAvgPx, &p.MarkPx, &p.Pnl, &p.PnlRatio, &p.LiquidationPx,
			&p.SubPos, &p.UserAmount, &p.InsertedOn, &p.UTime); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		out = append(out, p)
	}
	return out, rows.Err()
}

const positionColumns = `okx_pos_id, bin_pos_id, trader_id, symbol, side, leverage,
		is_active, is_copied, is_filled, is_ignored, is_ignored_reason, is_canceled, is_closed,
		open_avg_px, close_avg_px, mark_px, pnl, pnl_ratio, liquidation_px, sub_pos, user_amount,
		inserted_on, updated_on`

// ActiveNonIgnored returns, for each distinct symbol, the earliest-inserted
// active non-ignored row — the earliest-id-per-symbol JOIN of
// fetch_active_non_ignored_positions, which the conflict-resolution pass
// and the per-cycle reconciliation loop both consume.
func (s *PositionStore) ActiveNonIgnored() ([]domain.MirroredPosition, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM %s t
		INNER JOIN (
			SELECT MIN(okx_pos_id) AS earliest_id FROM %s WHERE is_active = 1 AND is_ignored = 0 GROUP BY symbol
		) sub ON t.okx_pos_id = sub.earliest_id
	`, positionColumns, s.table(), s.table()))
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

// Active returns every active row regardless of ignore state, ordered by
// insertion (fetch_active_db_positions).
func (s *PositionStore) Active() ([]domain.MirroredPosition, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM %s WHERE is_active = 1 ORDER BY inserted_on ASC`, positionColumns, s.table()))
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

// ActiveForTrader returns the active mirrored positions for one trader,
// the scope the Matcher operates on.
func (s *PositionStore) ActiveForTrader(traderID string) ([]domain.MirroredPosition, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s FROM %s WHERE is_active = 1 AND trader_id = ? ORDER BY inserted_on ASC`, positionColumns, s.table()), traderID)
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

// ActiveCopiedNotFilled returns positions copied to the exchange but not
// yet observed as filled — the scope of the reflect-fills phase.
func (s *PositionStore) ActiveCopiedNotFilled() ([]domain.MirroredPosition, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM %s WHERE is_active = 1 AND is_copied = 1 AND is_filled = 0
	`, positionColumns, s.table()))
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

// ActiveFilledNotClosed returns positions whose orders filled and that
// have not yet closed — the scope of the SL/TP manager and liquidation
// price refresh.
func (s *PositionStore) ActiveFilledNotClosed() ([]domain.MirroredPosition, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM %s WHERE is_active = 1 AND is_filled = 1 AND is_closed = 0
	`, positionColumns, s.table()))
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

// PendingAdmission returns active, non-ignored rows that have not yet
// been admitted into a copy decision (is_copied = 0) — the scope the
// engine's per-cycle admission/copy step (spec §4.5's CREATED state)
// draws its candidates from.
func (s *PositionStore) PendingAdmission() ([]domain.MirroredPosition, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM %s WHERE is_active = 1 AND is_ignored = 0 AND is_copied = 0 ORDER BY inserted_on ASC
	`, positionColumns, s.table()))
	if err != nil {
		return nil, err
	}
	return s.scanRows(rows)
}

// Get fetches one row by its primary key.
func (s *PositionStore) Get(id int64) (*domain.MirroredPosition, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM %s WHERE okx_pos_id = ?`, positionColumns, s.table()), id)
	var p domain.MirroredPosition
	var side string
	err := row.Scan(&p.ID, &p.BinPosID, &p.TraderID, &p.Symbol, &side, &p.Leverage,
		&p.IsActive, &p.IsCopied, &p.IsFilled, &p.IsIgnored, &p.IgnoredReason, &p.IsCanceled, &p.IsClosed,
		&p.OpenAvgPx, &p.CloseAvgPx, &p.MarkPx, &p.Pnl, &p.PnlRatio, &p.LiquidationPx,
		&p.SubPos, &p.UserAmount, &p.InsertedOn, &p.UTime)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	return &p, nil
}

// Insert creates a new mirrored position row keyed by the upstream
// TradeItemID (okx_pos_id in the source schema), matching insert_position:
// conditional insert guarded by a (trader_id, symbol, u_time)-equivalent
// existence check is done by the caller (Reconciler.InsertNew) using the
// matcher's classification, so this is a plain insert here.
func (s *PositionStore) Insert(p domain.MirroredPosition) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO %s (okx_pos_id, bin_pos_id, trader_id, symbol, side, leverage,
			is_active, is_copied, is_filled, is_ignored, is_ignored_reason, is_canceled, is_closed,
			open_avg_px, close_avg_px, mark_px, pnl, pnl_ratio, liquidation_px, sub_pos, user_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(okx_pos_id) DO NOTHING
	`, s.table()), p.ID, p.BinPosID, p.TraderID, p.Symbol, string(p.Side), p.Leverage,
		p.IsActive, p.IsCopied, p.IsFilled, p.IsIgnored, p.IgnoredReason, p.IsCanceled, p.IsClosed,
		p.OpenAvgPx, p.CloseAvgPx, p.MarkPx, p.Pnl, p.PnlRatio, p.LiquidationPx, p.SubPos, p.UserAmount)
	return err
}

// Update persists a single row's mutable columns by primary key — the
// only write shape the reconciler/slmanager ever issue against this
// table, each call made only after the corresponding exchange
// acknowledgement is in hand (spec §7: no partial state across a phase).
func (s *PositionStore) Update(p domain.MirroredPosition) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		UPDATE %s SET
			bin_pos_id = ?, is_active = ?, is_copied = ?, is_filled = ?,
			is_ignored = ?, is_ignored_reason = ?, is_canceled = ?, is_closed = ?,
			open_avg_px = ?, close_avg_px = ?, mark_px = ?, pnl = ?, pnl_ratio = ?, liquidation_px = ?,
			sub_pos = ?, user_amount = ?, updated_on = CURRENT_TIMESTAMP
		WHERE okx_pos_id = ?
	`, s.table()), p.BinPosID, p.IsActive, p.IsCopied, p.IsFilled,
		p.IsIgnored, p.IgnoredReason, p.IsCanceled, p.IsClosed,
		p.OpenAvgPx, p.CloseAvgPx, p.MarkPx, p.Pnl, p.PnlRatio, p.LiquidationPx,
		p.SubPos, p.UserAmount, p.ID)
	return err
}

// Exists mirrors insert_position's existence check, scoped on
// (trader_id, symbol, side) since the okx_pos_id primary key already
// enforces the upstream-identity uniqueness; the reconciler uses this to
// decide "new" vs "already tracked but deactivated".
func (s *PositionStore) Exists(traderID, symbol string, side domain.Side) (bool, error) {
	var n int
	err := s.db.QueryRow(fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE trader_id = ? AND symbol = ? AND side = ? AND is_active = 1
	`, s.table()), traderID, symbol, string(side)).Scan(&n)
	return n > 0, err
}
