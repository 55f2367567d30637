package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// StatsStore holds one instance's success_stats/penalties rows (shared
// global tables discriminated by position_table) and its kc_stats_{x}
// table, grounded on db_manager.py's insert_or_update_success_stats,
// insert_or_update_penalty and insert_or_update_kc.
type StatsStore struct {
	db       *sql.DB
	instance domain.Instance
}

func (s *StatsStore) kcTable() string { return "kc_stats_" + string(s.instance) }

func (s *StatsStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS success_stats (
			trader_id TEXT NOT NULL,
			position_table TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			win_count INTEGER NOT NULL DEFAULT 0,
			lose_count INTEGER NOT NULL DEFAULT 0,
			updated_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(trader_id, position_table)
		)
	`)
	if err != nil {
		return fmt.Errorf("init success_stats table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS penalties (
			trader_id TEXT NOT NULL,
			position_table TEXT NOT NULL,
			penalty_type TEXT NOT NULL DEFAULT 'sl',
			penalty_value REAL NOT NULL DEFAULT 2,
			UNIQUE(trader_id, position_table)
		)
	`)
	if err != nil {
		return fmt.Errorf("init penalties table: %w", err)
	}

	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			trader_id TEXT PRIMARY KEY,
			trades_count INTEGER NOT NULL DEFAULT 0,
			roe_sum REAL NOT NULL DEFAULT 0,
			avg_roe REAL NOT NULL DEFAULT 0,
			roe_std_dev REAL NOT NULL DEFAULT 0
		)
	`, s.kcTable())
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("init %s table: %w", s.kcTable(), err)
	}
	return nil
}

// UpsertSuccessStats inserts the (trader, instance) row on first sight and
// otherwise increments win_count or lose_count, matching
// insert_or_update_success_stats's is_win branch (nil leaves both counts
// untouched — used when a position is simply deactivated as never-copied).
func (s *StatsStore) UpsertSuccessStats(traderID string, isWin *bool) error {
	table := string(s.instance.PositionTable())
	_, err := s.db.Exec(`
		INSERT INTO success_stats (trader_id, position_table, is_active, win_count, lose_count)
		VALUES (?, ?, 1, 0, 0)
		ON CONFLICT(trader_id, position_table) DO UPDATE SET is_active = 1
	`, traderID, table)
	if err != nil || isWin == nil {
		return err
	}
	col := "lose_count"
	if *isWin {
		col = "win_count"
	}
	_, err = s.db.Exec(fmt.Sprintf(`UPDATE success_stats SET %s = %s + 1 WHERE trader_id = ? AND position_table = ?`, col, col), traderID, table)
	return err
}

// SuccessStats fetches one trader's running win/loss record for this
// instance, defaulting to a zero-valued, inactive record if none exists.
func (s *StatsStore) SuccessStats(traderID string) (domain.SuccessStats, error) {
	var st domain.SuccessStats
	st.TraderID = traderID
	st.PositionTable = string(s.instance.PositionTable())
	err := s.db.QueryRow(`
		SELECT is_active, win_count, lose_count, updated_on FROM success_stats WHERE trader_id = ? AND position_table = ?
	`, traderID, st.PositionTable).Scan(&st.IsActive, &st.WinCount, &st.LoseCount, &st.UpdatedOn)
	if err == sql.ErrNoRows {
		return st, nil
	}
	return st, err
}

// AllSuccessStats returns every active (trader, instance) success-stats
// row, matching get_all_traders_success_stats.
func (s *StatsStore) AllSuccessStats() ([]domain.SuccessStats, error) {
	table := string(s.instance.PositionTable())
	rows, err := s.db.Query(`
		SELECT trader_id, is_active, win_count, lose_count, updated_on FROM success_stats WHERE position_table = ?
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SuccessStats
	for rows.Next() {
		st := domain.SuccessStats{PositionTable: table}
		if err := rows.Scan(&st.TraderID, &st.IsActive, &st.WinCount, &st.LoseCount, &st.UpdatedOn); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertPenalty inserts a trader's first penalty at value 2 or doubles an
// existing one, matching insert_or_update_penalty.
func (s *StatsStore) UpsertPenalty(traderID string) error {
	table := string(s.instance.PositionTable())
	res, err := s.db.Exec(`
		UPDATE penalties SET penalty_value = penalty_value * 2 WHERE trader_id = ? AND position_table = ?
	`, traderID, table)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.db.Exec(`
		INSERT INTO penalties (trader_id, position_table, penalty_type, penalty_value) VALUES (?, ?, 'sl', 2)
	`, traderID, table)
	return err
}

// Penalty returns a trader's effective penalty multiplier for this
// instance, defaulting to 1 (no penalty applied) if the trader has never
// taken a stop-loss hit — distinct from the schema's initial-insert value
// of 2, which only appears after the first hit.
func (s *StatsStore) Penalty(traderID string) (float64, error) {
	var v float64
	err := s.db.QueryRow(`
		SELECT penalty_value FROM penalties WHERE trader_id = ? AND position_table = ?
	`, traderID, string(s.instance.PositionTable())).Scan(&v)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	return v, err
}

// AllPenalties mirrors get_all_traders_penalties.
func (s *StatsStore) AllPenalties() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT trader_id, penalty_value FROM penalties WHERE position_table = ?`, string(s.instance.PositionTable()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var id string
		var v float64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

// UpsertKC writes one trader's recomputed Kelly-criterion aggregate,
// matching insert_or_update_kc's ON DUPLICATE KEY UPDATE.
func (s *StatsStore) UpsertKC(k domain.KCStats) error {
	_, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO %s (trader_id, trades_count, roe_sum, avg_roe, roe_std_dev)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trader_id) DO UPDATE SET
			trades_count = excluded.trades_count,
			roe_sum = excluded.roe_sum,
			avg_roe = excluded.avg_roe,
			roe_std_dev = excluded.roe_std_dev
	`, s.kcTable()), k.TraderID, k.TradesCount, k.RoeSum, k.AvgRoe, k.RoeStdDev)
	return err
}

// KC fetches one trader's Kelly-criterion working set for this instance.
func (s *StatsStore) KC(traderID string) (domain.KCStats, error) {
	k := domain.KCStats{TraderID: traderID, PositionTable: string(s.instance.PositionTable())}
	err := s.db.QueryRow(fmt.Sprintf(`SELECT trades_count, roe_sum, avg_roe, roe_std_dev FROM %s WHERE trader_id = ?`, s.kcTable()), traderID).
		Scan(&k.TradesCount, &k.RoeSum, &k.AvgRoe, &k.RoeStdDev)
	if err == sql.ErrNoRows {
		return k, nil
	}
	return k, err
}

// AllKC mirrors get_all_traders_kc_stats, ordered by Kelly criterion
// descending for the selector's argmax.
func (s *StatsStore) AllKC() ([]domain.KCStats, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT trader_id, trades_count, roe_sum, avg_roe, roe_std_dev FROM %s`, s.kcTable()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.KCStats
	for rows.Next() {
		k := domain.KCStats{PositionTable: string(s.instance.PositionTable())}
		if err := rows.Scan(&k.TraderID, &k.TradesCount, &k.RoeSum, &k.AvgRoe, &k.RoeStdDev); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// RecomputeKC recomputes the Kelly-criterion aggregate for one trader from
// their closed mirrored positions no older than 365 days in this
// instance's position table, matching insert_or_update_kc's grouped
// aggregation query (AVG/STDDEV of pnl_ratio), then upserts it.
func (s *StatsStore) RecomputeKC(traderID string) error {
	posTable := string(s.instance.PositionTable())
	row := s.db.QueryRow(fmt.Sprintf(`
		SELECT COUNT(*), COALESCE(SUM(pnl_ratio), 0), COALESCE(AVG(pnl_ratio), 0)
		FROM %s
		WHERE trader_id = ? AND is_closed = 1 AND updated_on >= datetime('now', '-365 days')
	`, posTable), traderID)

	var count int
	var sum, avg float64
	if err := row.Scan(&count, &sum, &avg); err != nil {
		return err
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT pnl_ratio FROM %s WHERE trader_id = ? AND is_closed = 1 AND updated_on >= datetime('now', '-365 days')
	`, posTable), traderID)
	if err != nil {
		return err
	}
	var sumSquares float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		d := v - avg
		sumSquares += d * d
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var stddev float64
	if count > 0 {
		variance := sumSquares / float64(count)
		stddev = math.Sqrt(variance)
	}

	return s.UpsertKC(domain.KCStats{
		TraderID:    traderID,
		TradesCount: count,
		RoeSum:      sum,
		AvgRoe:      avg,
		RoeStdDev:   stddev,
	})
}
