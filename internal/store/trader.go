package store

import (
	"database/sql"
	"fmt"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// TraderStore holds the global trader and trader_stats tables. Both are
// shared read-mostly state: the upstream refresh loop writes them, every
// instance's reconciler reads them. Grounded on db_manager.py's `trader`/
// `trader_stats` tables and upsert_init_traders/detect_trader_type.
type TraderStore struct {
	db *sql.DB
}

func (s *TraderStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trader (
			trader_id TEXT PRIMARY KEY,
			nickname TEXT NOT NULL DEFAULT '',
			is_init BOOLEAN NOT NULL DEFAULT 0,
			is_followed BOOLEAN NOT NULL DEFAULT 0,
			is_observed BOOLEAN NOT NULL DEFAULT 0,
			is_ignored BOOLEAN NOT NULL DEFAULT 0,
			aum REAL NOT NULL DEFAULT 0,
			follow_pnl REAL NOT NULL DEFAULT 0,
			number_of_followers INTEGER NOT NULL DEFAULT 0,
			yield_ratio REAL NOT NULL DEFAULT 0,
			win_ratio REAL NOT NULL DEFAULT 0,
			symbol TEXT NOT NULL DEFAULT '',
			last_pos_datetime DATETIME,
			inserted_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("init trader table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trader_stats (
			trader_id TEXT NOT NULL,
			date_range TEXT NOT NULL,
			follower_num INTEGER NOT NULL DEFAULT 0,
			current_follow_pnl REAL NOT NULL DEFAULT 0,
			aum REAL NOT NULL DEFAULT 0,
			avg_position_value REAL NOT NULL DEFAULT 0,
			cost_val REAL NOT NULL DEFAULT 0,
			win_ratio REAL NOT NULL DEFAULT 0,
			loss_days INTEGER NOT NULL DEFAULT 0,
			profit_days INTEGER NOT NULL DEFAULT 0,
			yield_ratio REAL NOT NULL DEFAULT 0,
			updated_on DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(trader_id, date_range)
		)
	`)
	if err != nil {
		return fmt.Errorf("init trader_stats table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trader_is_followed ON trader(is_followed)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trader_is_observed ON trader(is_observed)`)
	return nil
}

// UpsertTrader inserts a trader or refreshes its mutable leaderboard
// fields, matching upsert_init_traders: insert on first sighting (with
// is_followed forced false until the filter gate runs), update the rest
// on every subsequent sighting.
func (s *TraderStore) UpsertTrader(t domain.Trader) error {
	_, err := s.db.Exec(`
		INSERT INTO trader (trader_id, nickname, is_init, aum, follow_pnl, number_of_followers, yield_ratio, win_ratio, symbol, is_followed, updated_on)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, 0, CURRENT_TIMESTAMP)
		ON CONFLICT(trader_id) DO UPDATE SET
			nickname = excluded.nickname,
			is_init = 1,
			aum = excluded.aum,
			follow_pnl = excluded.follow_pnl,
			number_of_followers = excluded.number_of_followers,
			yield_ratio = excluded.yield_ratio,
			win_ratio = excluded.win_ratio,
			symbol = excluded.symbol,
			updated_on = CURRENT_TIMESTAMP
	`, t.TraderID, t.Nickname, t.AUM, t.FollowPnl, t.NumberOfFollowers, t.YieldRatio, t.WinRatio, t.Symbol)
	return err
}

// SetFollowedObserved flips the is_followed/is_observed gate the filter
// pass decided for a trader, and clears is_init for the ones dropped from
// this refresh's leaderboard page (matching upsert_init_traders's
// traders_to_stop_following_or_observing branch).
func (s *TraderStore) SetFollowedObserved(traderID string, followed, observed, clearInit bool) error {
	if clearInit {
		_, err := s.db.Exec(`UPDATE trader SET is_followed = ?, is_observed = ?, is_init = 0 WHERE trader_id = ?`,
			followed, observed, traderID)
		return err
	}
	_, err := s.db.Exec(`UPDATE trader SET is_followed = ?, is_observed = ? WHERE trader_id = ?`, followed, observed, traderID)
	return err
}

// SetIgnored flips the is_ignored flag for a trader (used by the filter
// when a trader is permanently disqualified, as opposed to a per-position
// ignore reason).
func (s *TraderStore) SetIgnored(traderID string, ignored bool) error {
	_, err := s.db.Exec(`UPDATE trader SET is_ignored = ? WHERE trader_id = ?`, ignored, traderID)
	return err
}

// UpdateLastPosDatetime records the most recent time this trader opened a
// position we observed, matching update_last_pos_datetime_for_trader; the
// upstream observer's "observed" retention window (30 days) reads this back.
func (s *TraderStore) UpdateLastPosDatetime(traderID string, ts sql.NullTime) error {
	_, err := s.db.Exec(`UPDATE trader SET last_pos_datetime = ? WHERE trader_id = ?`, ts, traderID)
	return err
}

// Get fetches one trader by id.
func (s *TraderStore) Get(traderID string) (*domain.Trader, error) {
	return s.scanOne(s.db.QueryRow(`
		SELECT trader_id, nickname, is_init, is_followed, is_observed, is_ignored, aum, follow_pnl, number_of_followers,
		       yield_ratio, win_ratio, symbol, last_pos_datetime, inserted_on, updated_on
		FROM trader WHERE trader_id = ?
	`, traderID))
}

func (s *TraderStore) scanOne(row *sql.Row) (*domain.Trader, error) {
	var t domain.Trader
	var lastPos sql.NullTime
	err := row.Scan(&t.TraderID, &t.Nickname, &t.IsInit, &t.IsFollowed, &t.IsObserved, &t.IsIgnored,
		&t.AUM, &t.FollowPnl, &t.NumberOfFollowers, &t.YieldRatio, &t.WinRatio, &t.Symbol,
		&lastPos, &t.InsertedOn, &t.UpdatedOn)
	if err != nil {
		return nil, err
	}
	t.LastPosDatetime = lastPos.Time
	return &t, nil
}

// ActiveNonIgnored returns every trader flagged as followed or observed
// that has not been globally ignored — the candidate pool the reconciler
// starts each cycle from.
//
// detect_trader_type (the upstream origin of is_followed/is_observed)
// historically queried columns named "following"/"observing" that the
// schema never had; this store uses the real column names, per SPEC_FULL
// open question 2.
func (s *TraderStore) ActiveNonIgnored() ([]domain.Trader, error) {
	rows, err := s.db.Query(`
		SELECT trader_id, nickname, is_init, is_followed, is_observed, is_ignored, aum, follow_pnl, number_of_followers,
		       yield_ratio, win_ratio, symbol, last_pos_datetime, inserted_on, updated_on
		FROM trader
		WHERE is_ignored = 0 AND (is_followed = 1 OR is_observed = 1)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trader
	for rows.Next() {
		var t domain.Trader
		var lastPos sql.NullTime
		if err := rows.Scan(&t.TraderID, &t.Nickname, &t.IsInit, &t.IsFollowed, &t.IsObserved, &t.IsIgnored,
			&t.AUM, &t.FollowPnl, &t.NumberOfFollowers, &t.YieldRatio, &t.WinRatio, &t.Symbol,
			&lastPos, &t.InsertedOn, &t.UpdatedOn); err != nil {
			return nil, err
		}
		t.LastPosDatetime = lastPos.Time
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllTraderIDs mirrors fetch_all_trader_ids.
func (s *TraderStore) AllTraderIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT trader_id FROM trader`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertStats writes one date-range trade-stats snapshot for a trader.
func (s *TraderStore) UpsertStats(st domain.TraderStats) error {
	_, err := s.db.Exec(`
		INSERT INTO trader_stats (trader_id, date_range, follower_num, current_follow_pnl, aum, avg_position_value, cost_val, win_ratio, loss_days, profit_days, yield_ratio, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(trader_id, date_range) DO UPDATE SET
			follower_num = excluded.follower_num,
			current_follow_pnl = excluded.current_follow_pnl,
			aum = excluded.aum,
			avg_position_value = excluded.avg_position_value,
			cost_val = excluded.cost_val,
			win_ratio = excluded.win_ratio,
			loss_days = excluded.loss_days,
			profit_days = excluded.profit_days,
			yield_ratio = excluded.yield_ratio,
			updated_on = CURRENT_TIMESTAMP
	`, st.TraderID, st.DateRange, st.FollowerNum, st.CurrentFollowPnl, st.AUM, st.AvgPositionValue,
		st.CostVal, st.WinRatio, st.LossDays, st.ProfitDays, st.YieldRatio)
	return err
}

// Stats fetches one trader's stats for a date range. Returns sql.ErrNoRows
// if the upstream has never reported that range for this trader.
func (s *TraderStore) Stats(traderID, dateRange string) (*domain.TraderStats, error) {
	var st domain.TraderStats
	err := s.db.QueryRow(`
		SELECT trader_id, date_range, follower_num, current_follow_pnl, aum, avg_position_value, cost_val, win_ratio, loss_days, profit_days, yield_ratio, updated_on
		FROM trader_stats WHERE trader_id = ? AND date_range = ?
	`, traderID, dateRange).Scan(&st.TraderID, &st.DateRange, &st.FollowerNum, &st.CurrentFollowPnl, &st.AUM,
		&st.AvgPositionValue, &st.CostVal, &st.WinRatio, &st.LossDays, &st.ProfitDays, &st.YieldRatio, &st.UpdatedOn)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
